package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/eventgate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidAccount is returned when a row references an account that does not exist.
var ErrInvalidAccount = errors.New("account does not exist")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// InsertEvent stores the event unless one with the same EventID exists.
	// It reports inserted=false, with a nil error, for an existing id.
	InsertEvent(ctx context.Context, event *models.Event) (inserted bool, err error)
	ListEvents(ctx context.Context, filter EventFilter) ([]*models.Event, error)
	LatestEvent(ctx context.Context, account string) (*models.Event, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	ListAccounts(ctx context.Context) ([]*models.Account, error)

	CreateCredential(ctx context.Context, cred *models.Credential) error
	GetActiveCredentialByHash(ctx context.Context, keyHash string) (*models.Credential, error)
	DeactivateCredentialByHash(ctx context.Context, keyHash string) error

	CountRateHits(ctx context.Context, key string, since time.Time) (int, error)
	InsertRateHit(ctx context.Context, key string, at time.Time) error
	DeleteRateHitsBefore(ctx context.Context, before time.Time) error

	// IncrementBucket adds one to the (account, type, hour) counter, creating it at one.
	IncrementBucket(ctx context.Context, account, eventType string, hour time.Time) error
	SumByType(ctx context.Context, account string, since time.Time) ([]models.TypeTotal, error)
	ListBuckets(ctx context.Context, filter BucketFilter) ([]*models.AnalyticsBucket, error)
	TopAccounts(ctx context.Context, since time.Time, limit int) ([]models.AccountTotal, error)
}

// EventFilter narrows ListEvents. Empty fields are not applied.
type EventFilter struct {
	Account string
	Type    string
	Limit   int
	Offset  int
}

const (
	DefaultEventLimit = 50
	MaxEventLimit     = 500
)

// Normalize clamps Limit and Offset to their accepted ranges.
func (f EventFilter) Normalize() EventFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultEventLimit
	}
	if f.Limit > MaxEventLimit {
		f.Limit = MaxEventLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// BucketFilter narrows ListBuckets. Type is optional.
type BucketFilter struct {
	Account string
	Type    string
	Since   time.Time
}
