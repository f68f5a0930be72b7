package auth

import (
	"context"
	"sync"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// MemoryUserStore keeps user records in process memory. Records are
// cloned on the way in and out so callers never share map state.
type MemoryUserStore struct {
	mu        sync.RWMutex
	users     map[string]*model.User // user_id -> record
	usernames map[string]string      // username -> user_id
}

// NewMemoryUserStore creates an empty user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:     make(map[string]*model.User),
		usernames: make(map[string]string),
	}
}

// Create claims the username and stores the record.
func (s *MemoryUserStore) Create(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usernames[user.Username]; taken {
		return ErrUserExists
	}
	s.usernames[user.Username] = user.UserID
	s.users[user.UserID] = user.Clone()
	return nil
}

// GetByID returns the record or ErrUserNotFound.
func (s *MemoryUserStore) GetByID(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user.Clone(), nil
}

// GetByUsername resolves the username index, then the record.
func (s *MemoryUserStore) GetByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	user, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user.Clone(), nil
}

// Update overwrites the stored record.
func (s *MemoryUserStore) Update(_ context.Context, user *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.UserID]; !ok {
		return ErrUserNotFound
	}
	s.users[user.UserID] = user.Clone()
	return nil
}

// Delete removes the record and its username index entry.
func (s *MemoryUserStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return false, nil
	}
	delete(s.users, id)
	delete(s.usernames, user.Username)
	return true, nil
}

// List returns all records.
func (s *MemoryUserStore) List(_ context.Context) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.User, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user.Clone())
	}
	return out, nil
}

// UserStats counts stored and active users.
func (s *MemoryUserStore) UserStats(context.Context) (UserStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := UserStats{TotalUsers: int64(len(s.users)), Backend: "memory"}
	for _, user := range s.users {
		if user.IsActive {
			stats.ActiveUsers++
		}
	}
	return stats, nil
}
