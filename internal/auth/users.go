// Package auth owns identity: user and topic records, password hashing,
// bearer tokens, and the access checks the publish and subscribe paths
// run on every request.
package auth

import (
	"context"
	"errors"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// Sentinel results. "Already exists" is an expected outcome of racing
// creators, not an exception.
var (
	ErrUserExists     = errors.New("user already exists")
	ErrUserNotFound   = errors.New("user not found")
	ErrTopicExists    = errors.New("topic already exists")
	ErrTopicNotFound  = errors.New("topic not found")
	ErrAlreadyGranted = errors.New("user already has access")
)

// UserStore persists user records. Create atomically claims the
// username: of N concurrent creators exactly one succeeds, the rest get
// ErrUserExists with no partial state behind.
type UserStore interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// Update overwrites the whole record.
	Update(ctx context.Context, user *model.User) error
	// Delete reports false for an unknown id.
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]*model.User, error)
}

// UserStats summarizes a user store for the admin stats surface.
type UserStats struct {
	TotalUsers  int64  `json:"total_users"`
	ActiveUsers int64  `json:"active_users"`
	Backend     string `json:"backend"`
}

// UserStatsProvider is an optional capability of UserStore
// implementations.
type UserStatsProvider interface {
	UserStats(ctx context.Context) (UserStats, error)
}
