// Package memory provides an in-process implementation of the storage
// interfaces, used by tests and by runs without a configured database.
package memory

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"mintwatch/internal/storage"
)

// Store is an in-memory implementation of storage.AlertStore,
// storage.CelebrationStore, storage.QuoteSampleStore and storage.UserStore.
type Store struct {
	mu sync.RWMutex

	alerts      map[int64]storage.PriceAlert
	nextAlertID int64

	media       map[int64]storage.CelebrationMedia
	nextMediaID int64

	samples []storage.QuoteSample

	users map[int64]storage.User

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		alerts: make(map[int64]storage.PriceAlert),
		media:  make(map[int64]storage.CelebrationMedia),
		users:  make(map[int64]storage.User),
		now:    time.Now,
	}
}

// CreateAlert validates the alert and assigns the next id.
func (s *Store) CreateAlert(_ context.Context, alert storage.PriceAlert) (storage.PriceAlert, error) {
	if err := alert.Validate(); err != nil {
		return storage.PriceAlert{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAlertID++
	alert.ID = s.nextAlertID
	alert.Symbol = storage.NormalizeSymbol(alert.Symbol)
	alert.CreatedAt = s.now().UTC()
	s.alerts[alert.ID] = alert
	return alert, nil
}

// ListAllAlerts returns a copy of every alert ordered by id.
func (s *Store) ListAllAlerts(_ context.Context) ([]storage.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]storage.PriceAlert, 0, len(s.alerts))
	for _, a := range s.alerts {
		result = append(result, a)
	}
	sortAlerts(result)
	return result, nil
}

// ListUserAlerts returns the alerts owned by userID ordered by id.
func (s *Store) ListUserAlerts(_ context.Context, userID int64) ([]storage.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []storage.PriceAlert
	for _, a := range s.alerts {
		if a.UserID == userID {
			result = append(result, a)
		}
	}
	sortAlerts(result)
	return result, nil
}

// DeleteAlert removes the alert; false when it did not exist.
func (s *Store) DeleteAlert(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alerts[id]; !ok {
		return false, nil
	}
	delete(s.alerts, id)
	return true, nil
}

// DeleteUserAlert removes the alert only when userID owns it.
func (s *Store) DeleteUserAlert(_ context.Context, id, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[id]
	if !ok || a.UserID != userID {
		return false, nil
	}
	delete(s.alerts, id)
	return true, nil
}

// AddMedia stores a celebration item and assigns its id.
func (s *Store) AddMedia(_ context.Context, media storage.CelebrationMedia) (storage.CelebrationMedia, error) {
	if media.FileID == "" || media.Category == "" {
		return storage.CelebrationMedia{}, fmt.Errorf("%w: file id and category required", storage.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMediaID++
	media.ID = s.nextMediaID
	s.media[media.ID] = media
	return media, nil
}

// RandomMedia picks one item of category uniformly at random.
func (s *Store) RandomMedia(_ context.Context, category string) (storage.CelebrationMedia, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []storage.CelebrationMedia
	for _, m := range s.media {
		if m.Category == category {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return storage.CelebrationMedia{}, storage.ErrNotFound
	}
	return candidates[rand.IntN(len(candidates))], nil
}

// DeleteMedia removes a celebration item; false when it did not exist.
func (s *Store) DeleteMedia(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.media[id]; !ok {
		return false, nil
	}
	delete(s.media, id)
	return true, nil
}

// InsertQuoteSamples appends observations.
func (s *Store) InsertQuoteSamples(_ context.Context, samples []storage.QuoteSample) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.samples = append(s.samples, samples...)
	return nil
}

// ListQuoteSamplesBetween lists samples for symbol within [from, to) ordered by time.
func (s *Store) ListQuoteSamplesBetween(_ context.Context, symbol string, from, to time.Time) ([]storage.QuoteSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	symbol = storage.NormalizeSymbol(symbol)
	var result []storage.QuoteSample
	for _, sample := range s.samples {
		if sample.Symbol != symbol {
			continue
		}
		if sample.ObservedAt.Before(from) || !sample.ObservedAt.Before(to) {
			continue
		}
		result = append(result, sample)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ObservedAt.Before(result[j].ObservedAt)
	})
	return result, nil
}

// UpsertUser registers the user; true when it was not known before.
func (s *Store) UpsertUser(_ context.Context, user storage.User) (bool, error) {
	if err := user.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		user.FirstSeen = s.now().UTC()
		s.users[user.ID] = user
		return true, nil
	}
	if user.Username != "" {
		existing.Username = user.Username
	}
	if user.FirstName != "" {
		existing.FirstName = user.FirstName
	}
	if user.LastName != "" {
		existing.LastName = user.LastName
	}
	s.users[user.ID] = existing
	return false, nil
}

// ListUserIDs returns registered ids in ascending order.
func (s *Store) ListUserIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// CountUsers returns the number of registered users.
func (s *Store) CountUsers(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users), nil
}

func sortAlerts(alerts []storage.PriceAlert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].ID < alerts[j].ID
	})
}

var (
	_ storage.AlertStore       = (*Store)(nil)
	_ storage.CelebrationStore = (*Store)(nil)
	_ storage.QuoteSampleStore = (*Store)(nil)
	_ storage.UserStore        = (*Store)(nil)
)
