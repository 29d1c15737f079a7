package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/eventgate/pkg/models"
)

// MemoryStore is an in-process Store used for local runs and tests.
// It enforces the same uniqueness and foreign-key rules as the Postgres schema.
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[string]*models.Event
	accounts    map[string]*models.Account
	credentials map[string]*models.Credential // key hash -> credential
	hits        map[string][]time.Time
	buckets     map[bucketKey]int64
	now         func() time.Time
}

type bucketKey struct {
	account   string
	eventType string
	hour      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:      map[string]*models.Event{},
		accounts:    map[string]*models.Account{},
		credentials: map[string]*models.Credential{},
		hits:        map[string][]time.Time{},
		buckets:     map[bucketKey]int64{},
		now:         time.Now,
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) InsertEvent(_ context.Context, e *models.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[e.EventID]; ok {
		return false, nil
	}
	if _, ok := s.accounts[e.Account]; !ok {
		return false, ErrInvalidAccount
	}
	cp := *e
	if len(cp.Payload) == 0 {
		cp.Payload = []byte("{}")
	}
	cp.CreatedAt = s.now().UTC()
	s.events[e.EventID] = &cp
	return true, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]*models.Event, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Event, 0, len(s.events))
	for _, e := range s.events {
		if filter.Account != "" && e.Account != filter.Account {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		cp := *e
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].OccurredAt.Equal(all[j].OccurredAt) {
			return all[i].EventID < all[j].EventID
		}
		return all[i].OccurredAt.After(all[j].OccurredAt)
	})

	start := filter.Offset
	if start > len(all) {
		start = len(all)
	}
	end := start + filter.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *MemoryStore) LatestEvent(ctx context.Context, account string) (*models.Event, error) {
	events, err := s.ListEvents(ctx, EventFilter{Account: account, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.Code]; ok {
		return ErrDuplicateKey
	}
	cp := *a
	cp.CreatedAt = s.now().UTC()
	s.accounts[a.Code] = &cp
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*models.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Code < all[j].Code })
	return all, nil
}

func (s *MemoryStore) CreateCredential(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[c.KeyHash]; ok {
		return ErrDuplicateKey
	}
	if _, ok := s.accounts[c.Account]; !ok {
		return ErrInvalidAccount
	}
	cp := *c
	cp.Active = true
	s.credentials[c.KeyHash] = &cp
	return nil
}

func (s *MemoryStore) GetActiveCredentialByHash(_ context.Context, keyHash string) (*models.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.credentials[keyHash]
	if !ok || !c.Active {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) DeactivateCredentialByHash(_ context.Context, keyHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[keyHash]
	if !ok {
		return ErrNotFound
	}
	c.Active = false
	return nil
}

func (s *MemoryStore) CountRateHits(_ context.Context, key string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, ts := range s.hits[key] {
		if ts.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) InsertRateHit(_ context.Context, key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits[key] = append(s.hits[key], at)
	return nil
}

func (s *MemoryStore) DeleteRateHitsBefore(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, hits := range s.hits {
		kept := hits[:0]
		for _, ts := range hits {
			if !ts.Before(before) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(s.hits, key)
			continue
		}
		s.hits[key] = kept
	}
	return nil
}

func (s *MemoryStore) IncrementBucket(_ context.Context, account, eventType string, hour time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buckets[bucketKey{account: account, eventType: eventType, hour: hour.UTC().Unix()}]++
	return nil
}

func (s *MemoryStore) SumByType(_ context.Context, account string, since time.Time) ([]models.TypeTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := map[string]int64{}
	for k, n := range s.buckets {
		if k.account == account && k.hour >= since.Unix() {
			sums[k.eventType] += n
		}
	}
	totals := make([]models.TypeTotal, 0, len(sums))
	for t, n := range sums {
		totals = append(totals, models.TypeTotal{Type: t, Total: n})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Total == totals[j].Total {
			return totals[i].Type < totals[j].Type
		}
		return totals[i].Total > totals[j].Total
	})
	return totals, nil
}

func (s *MemoryStore) ListBuckets(_ context.Context, filter BucketFilter) ([]*models.AnalyticsBucket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buckets := []*models.AnalyticsBucket{}
	for k, n := range s.buckets {
		if k.account != filter.Account || k.hour < filter.Since.Unix() {
			continue
		}
		if filter.Type != "" && k.eventType != filter.Type {
			continue
		}
		buckets = append(buckets, &models.AnalyticsBucket{
			Account:   k.account,
			EventType: k.eventType,
			HourStart: time.Unix(k.hour, 0).UTC(),
			Count:     n,
		})
	}
	sort.Slice(buckets, func(i, j int) bool {
		if buckets[i].HourStart.Equal(buckets[j].HourStart) {
			return buckets[i].EventType < buckets[j].EventType
		}
		return buckets[i].HourStart.Before(buckets[j].HourStart)
	})
	return buckets, nil
}

func (s *MemoryStore) TopAccounts(_ context.Context, since time.Time, limit int) ([]models.AccountTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := map[string]int64{}
	for k, n := range s.buckets {
		if k.hour >= since.Unix() {
			sums[k.account] += n
		}
	}
	totals := make([]models.AccountTotal, 0, len(sums))
	for a, n := range sums {
		totals = append(totals, models.AccountTotal{Account: a, Total: n})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Total == totals[j].Total {
			return totals[i].Account < totals[j].Account
		}
		return totals[i].Total > totals[j].Total
	})
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals, nil
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)
