package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Events ---

const eventColumns = `event_id, tipo, cuenta_codigo, origen, lat, lng, fecha_evento, payload, created_at`

func (s *PostgresStore) InsertEvent(ctx context.Context, e *models.Event) (bool, error) {
	payload := e.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	// RETURNING yields a row only when the insert happened; a conflict returns none.
	var one int
	err := s.pool.QueryRow(ctx,
		`INSERT INTO eventos (event_id, tipo, cuenta_codigo, origen, lat, lng, fecha_evento, payload)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (event_id) DO NOTHING
		 RETURNING 1`,
		e.EventID, e.Type, e.Account, e.Origin, e.Lat, e.Lng, e.OccurredAt, []byte(payload),
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if isForeignKeyError(err) {
			return false, ErrInvalidAccount
		}
		return false, fmt.Errorf("insert event: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error) {
	filter = filter.Normalize()

	conditions := []string{"1 = 1"}
	var args []any
	argIdx := 1

	if filter.Account != "" {
		conditions = append(conditions, fmt.Sprintf("cuenta_codigo = $%d", argIdx))
		args = append(args, filter.Account)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("tipo = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s FROM eventos WHERE %s ORDER BY fecha_evento DESC LIMIT $%d OFFSET $%d`,
		eventColumns, strings.Join(conditions, " AND "), argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []*models.Event{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) LatestEvent(ctx context.Context, account string) (*models.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM eventos WHERE cuenta_codigo = $1 ORDER BY fecha_evento DESC LIMIT 1`,
		account)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var payload []byte
	if err := row.Scan(&e.EventID, &e.Type, &e.Account, &e.Origin, &e.Lat, &e.Lng,
		&e.OccurredAt, &payload, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Payload = payload
	return &e, nil
}

// --- Accounts ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *models.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cuentas (codigo, nombre, direccion, telefono, lat, lng)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.Code, a.Name, a.Address, a.Phone, a.Lat, a.Lng)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT codigo, nombre, direccion, telefono, lat, lng, created_at
		 FROM cuentas ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []*models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.Code, &a.Name, &a.Address, &a.Phone, &a.Lat, &a.Lng, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// --- Credentials ---

func (s *PostgresStore) CreateCredential(ctx context.Context, c *models.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, key_hash, cuenta_codigo, nombre, role, activo, creado_en)
		 VALUES ($1, $2, $3, $4, $5, TRUE, $6)`,
		c.ID, c.KeyHash, c.Account, c.Name, string(c.Tier), c.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return ErrInvalidAccount
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetActiveCredentialByHash(ctx context.Context, keyHash string) (*models.Credential, error) {
	var c models.Credential
	var tier string
	err := s.pool.QueryRow(ctx,
		`SELECT id, key_hash, cuenta_codigo, nombre, role, activo, creado_en
		 FROM api_keys WHERE key_hash = $1 AND activo`, keyHash,
	).Scan(&c.ID, &c.KeyHash, &c.Account, &c.Name, &tier, &c.Active, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential by hash: %w", err)
	}
	c.Tier = models.Tier(tier)
	return &c, nil
}

func (s *PostgresStore) DeactivateCredentialByHash(ctx context.Context, keyHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET activo = FALSE WHERE key_hash = $1`, keyHash)
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Rate limit window ---

func (s *PostgresStore) CountRateHits(ctx context.Context, key string, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rate_limits WHERE api_key_id = $1 AND timestamp > $2`,
		key, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count rate hits: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertRateHit(ctx context.Context, key string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rate_limits (api_key_id, timestamp) VALUES ($1, $2)`, key, at)
	if err != nil {
		return fmt.Errorf("insert rate hit: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteRateHitsBefore(ctx context.Context, before time.Time) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rate_limits WHERE timestamp < $1`, before)
	if err != nil {
		return fmt.Errorf("delete rate hits: %w", err)
	}
	return nil
}

// --- Analytics ---

func (s *PostgresStore) IncrementBucket(ctx context.Context, account, eventType string, hour time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analytics (cuenta_codigo, evento_tipo, fecha_hora, cantidad)
		 VALUES ($1, $2, $3, 1)
		 ON CONFLICT (cuenta_codigo, evento_tipo, fecha_hora) DO UPDATE SET
		   cantidad = analytics.cantidad + 1`,
		account, eventType, hour)
	if err != nil {
		return fmt.Errorf("increment analytics bucket: %w", err)
	}
	return nil
}

func (s *PostgresStore) SumByType(ctx context.Context, account string, since time.Time) ([]models.TypeTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT evento_tipo, SUM(cantidad)::BIGINT AS total
		 FROM analytics WHERE cuenta_codigo = $1 AND fecha_hora >= $2
		 GROUP BY evento_tipo ORDER BY total DESC, evento_tipo`, account, since)
	if err != nil {
		return nil, fmt.Errorf("sum analytics by type: %w", err)
	}
	defer rows.Close()

	totals := []models.TypeTotal{}
	for rows.Next() {
		var t models.TypeTotal
		if err := rows.Scan(&t.Type, &t.Total); err != nil {
			return nil, fmt.Errorf("scan type total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

func (s *PostgresStore) ListBuckets(ctx context.Context, filter BucketFilter) ([]*models.AnalyticsBucket, error) {
	query := `SELECT cuenta_codigo, evento_tipo, fecha_hora, cantidad
		 FROM analytics WHERE cuenta_codigo = $1 AND fecha_hora >= $2`
	args := []any{filter.Account, filter.Since}
	if filter.Type != "" {
		query += ` AND evento_tipo = $3`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY fecha_hora ASC, evento_tipo`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list analytics buckets: %w", err)
	}
	defer rows.Close()

	buckets := []*models.AnalyticsBucket{}
	for rows.Next() {
		var b models.AnalyticsBucket
		if err := rows.Scan(&b.Account, &b.EventType, &b.HourStart, &b.Count); err != nil {
			return nil, fmt.Errorf("scan analytics bucket: %w", err)
		}
		buckets = append(buckets, &b)
	}
	return buckets, rows.Err()
}

func (s *PostgresStore) TopAccounts(ctx context.Context, since time.Time, limit int) ([]models.AccountTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT cuenta_codigo, SUM(cantidad)::BIGINT AS total
		 FROM analytics WHERE fecha_hora >= $1
		 GROUP BY cuenta_codigo ORDER BY total DESC, cuenta_codigo LIMIT $2`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top accounts: %w", err)
	}
	defer rows.Close()

	totals := []models.AccountTotal{}
	for rows.Next() {
		var t models.AccountTotal
		if err := rows.Scan(&t.Account, &t.Total); err != nil {
			return nil, fmt.Errorf("scan account total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyError checks if a pgx error is a foreign key violation.
func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
