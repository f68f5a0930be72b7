package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// usernameIndexKey maps username -> user_id; its fields are claimed with
// HSETNX so racing creators resolve to one winner.
const usernameIndexKey = "user:username_index"

func userKey(id string) string { return "user:" + id }

// boolField renders booleans the way the store records them.
func boolField(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func parseBoolField(s string) bool {
	return s == "True" || s == "true"
}

// RedisUserStore persists user records in a Redis-protocol store, one
// hash per user plus the shared username index.
type RedisUserStore struct {
	client *redis.Client
}

// NewRedisUserStore wraps an existing store client.
func NewRedisUserStore(client *redis.Client) *RedisUserStore {
	return &RedisUserStore{client: client}
}

func userHash(user *model.User) (map[string]any, error) {
	perms, err := json.Marshal(user.Permissions)
	if err != nil {
		return nil, fmt.Errorf("encode permissions: %w", err)
	}
	owned := user.OwnedTopics
	if owned == nil {
		owned = []string{}
	}
	topics, err := json.Marshal(owned)
	if err != nil {
		return nil, fmt.Errorf("encode owned_topics: %w", err)
	}
	return map[string]any{
		"user_id":         user.UserID,
		"username":        user.Username,
		"email":           user.Email,
		"hashed_password": user.HashedPassword,
		"is_active":       boolField(user.IsActive),
		"created_at":      user.CreatedAt.UTC().Format(time.RFC3339Nano),
		"permissions":     string(perms),
		"owned_topics":    string(topics),
	}, nil
}

func userFromHash(fields map[string]string) (*model.User, error) {
	user := &model.User{
		UserID:         fields["user_id"],
		Username:       fields["username"],
		Email:          fields["email"],
		HashedPassword: fields["hashed_password"],
		IsActive:       parseBoolField(fields["is_active"]),
		Permissions:    []string{},
		OwnedTopics:    []string{},
	}
	if raw := fields["created_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode created_at: %w", err)
		}
		user.CreatedAt = ts
	}
	if raw := fields["permissions"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &user.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if raw := fields["owned_topics"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &user.OwnedTopics); err != nil {
			return nil, fmt.Errorf("decode owned_topics: %w", err)
		}
	}
	return user, nil
}

// Create claims the username via HSETNX, then writes the record. A
// failed record write releases the claim so the name stays available.
func (s *RedisUserStore) Create(ctx context.Context, user *model.User) error {
	claimed, err := s.client.HSetNX(ctx, usernameIndexKey, user.Username, user.UserID).Result()
	if err != nil {
		return fmt.Errorf("claim username: %w", err)
	}
	if !claimed {
		return ErrUserExists
	}

	fields, err := userHash(user)
	if err == nil {
		err = s.client.HSet(ctx, userKey(user.UserID), fields).Err()
	}
	if err != nil {
		s.client.HDel(context.WithoutCancel(ctx), usernameIndexKey, user.Username)
		return fmt.Errorf("write user %s: %w", user.UserID, err)
	}
	return nil
}

// GetByID reads one user hash.
func (s *RedisUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	fields, err := s.client.HGetAll(ctx, userKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("read user %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, ErrUserNotFound
	}
	return userFromHash(fields)
}

// GetByUsername resolves the username index, then the record.
func (s *RedisUserStore) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	id, err := s.client.HGet(ctx, usernameIndexKey, username).Result()
	if err == redis.Nil {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve username %s: %w", username, err)
	}
	return s.GetByID(ctx, id)
}

// Update overwrites the stored record.
func (s *RedisUserStore) Update(ctx context.Context, user *model.User) error {
	exists, err := s.client.Exists(ctx, userKey(user.UserID)).Result()
	if err != nil {
		return fmt.Errorf("check user %s: %w", user.UserID, err)
	}
	if exists == 0 {
		return ErrUserNotFound
	}

	fields, err := userHash(user)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, userKey(user.UserID), fields).Err(); err != nil {
		return fmt.Errorf("write user %s: %w", user.UserID, err)
	}
	return nil
}

// Delete removes the record and its username index entry.
func (s *RedisUserStore) Delete(ctx context.Context, id string) (bool, error) {
	user, err := s.GetByID(ctx, id)
	if err == ErrUserNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.client.Del(ctx, userKey(id)).Err(); err != nil {
		return false, fmt.Errorf("delete user %s: %w", id, err)
	}
	if err := s.client.HDel(ctx, usernameIndexKey, user.Username).Err(); err != nil {
		return false, fmt.Errorf("drop username index %s: %w", user.Username, err)
	}
	return true, nil
}

// List fetches every user referenced by the username index.
func (s *RedisUserStore) List(ctx context.Context) ([]*model.User, error) {
	index, err := s.client.HGetAll(ctx, usernameIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read username index: %w", err)
	}

	out := make([]*model.User, 0, len(index))
	for _, id := range index {
		user, err := s.GetByID(ctx, id)
		if err == ErrUserNotFound {
			continue // index entry racing a delete
		}
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	return out, nil
}

// UserStats counts users by walking the index.
func (s *RedisUserStore) UserStats(ctx context.Context) (UserStats, error) {
	users, err := s.List(ctx)
	if err != nil {
		return UserStats{}, err
	}
	stats := UserStats{TotalUsers: int64(len(users)), Backend: "store"}
	for _, user := range users {
		if user.IsActive {
			stats.ActiveUsers++
		}
	}
	return stats, nil
}
