package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// Authentication outcomes the HTTP layer maps to status codes.
var (
	ErrInvalidCredentials = errors.New("incorrect username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrInactiveUser       = errors.New("user is inactive")
)

// PermissionError reports a missing permission.
type PermissionError struct {
	Permission string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission %q required", e.Permission)
}

// TopicAccessError reports a denied topic access check.
type TopicAccessError struct {
	Topic string
}

func (e *TopicAccessError) Error() string {
	return fmt.Sprintf("access denied to topic %q", e.Topic)
}

// Service ties together user and topic stores, tokens, and the user
// cache. All request-path authorization runs through it.
type Service struct {
	users  UserStore
	topics TopicStore
	tokens *TokenManager
	cache  *UserCache
	logger zerolog.Logger
}

// NewService wires the auth service. The cache bounds staleness of
// token lookups to its TTL; local mutations invalidate eagerly.
func NewService(users UserStore, topics TopicStore, tokens *TokenManager, cache *UserCache, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		topics: topics,
		tokens: tokens,
		cache:  cache,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// Users exposes the underlying user store for admin surfaces.
func (s *Service) Users() UserStore { return s.users }

// Topics exposes the underlying topic store.
func (s *Service) Topics() TopicStore { return s.topics }

// TokenTTL reports the configured token lifetime.
func (s *Service) TokenTTL() time.Duration { return s.tokens.TTL() }

// CacheLen reports the number of cached user entries.
func (s *Service) CacheLen() int { return s.cache.Len() }

// Login verifies credentials and mints a bearer token. Unknown
// usernames and wrong passwords are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, username, password string) (*model.TokenResponse, error) {
	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger.Warn().Str("username", username).Msg("Login attempt for non-existent user")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !VerifyPassword(password, user.HashedPassword) {
		s.logger.Warn().Str("username", username).Msg("Invalid password for user")
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.logger.Warn().Str("username", username).Msg("Login attempt for inactive user")
		return nil, ErrInactiveUser
	}

	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	s.logger.Info().Str("username", user.Username).Msg("User logged in successfully")

	return &model.TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   int(s.tokens.TTL().Seconds()),
	}, nil
}

// Authenticate resolves a bearer token to its user record. Lookups go
// through the user cache; hits still revalidate is_active so a
// deactivation takes effect within the cache TTL at worst.
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if user, ok := s.cache.Get(claims.Subject); ok {
		if !user.IsActive {
			return nil, ErrInactiveUser
		}
		return user, nil
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	s.cache.Set(user)

	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return user, nil
}

// RequirePermission succeeds iff the user carries the permission.
func (s *Service) RequirePermission(user *model.User, permission string) error {
	if !user.HasPermission(permission) {
		return &PermissionError{Permission: permission}
	}
	return nil
}

// RequireTopicAccess runs the topic ACL check and shapes a denial into
// a TopicAccessError.
func (s *Service) RequireTopicAccess(ctx context.Context, user *model.User, topic, kind string) error {
	allowed, err := s.topics.CanAccess(ctx, topic, user.UserID, kind, user.Permissions)
	if err != nil {
		return err
	}
	if !allowed {
		return &TopicAccessError{Topic: topic}
	}
	return nil
}

// EnsureTopic returns the topic, creating it owned by the actor when it
// does not exist yet. This is the only implicit topic creation path.
// When the topic already exists the actor must hold write access; a
// racing creator that loses the name claim adopts the winner's topic.
func (s *Service) EnsureTopic(ctx context.Context, actor *model.User, name string) (*model.Topic, error) {
	topic, err := s.topics.Get(ctx, name)
	if err == nil {
		if err := s.RequireTopicAccess(ctx, actor, name, model.PermissionWrite); err != nil {
			return nil, err
		}
		return topic, nil
	}
	if !errors.Is(err, ErrTopicNotFound) {
		return nil, err
	}

	topic, err = s.topics.Create(ctx, actor.UserID, model.TopicCreate{
		TopicName:   name,
		IsPublic:    false,
		Description: fmt.Sprintf("Auto-created topic by %s", actor.Username),
	})
	if err != nil {
		if errors.Is(err, ErrTopicExists) {
			// Lost the creation race; the winner's write established
			// the topic, so this write is admitted alongside it.
			return s.topics.Get(ctx, name)
		}
		return nil, err
	}

	actor.OwnedTopics = append(actor.OwnedTopics, name)
	if err := s.users.Update(ctx, actor); err != nil {
		s.logger.Warn().
			Err(err).
			Str("username", actor.Username).
			Str("topic", name).
			Msg("Failed to record auto-created topic on owner")
	}
	s.cache.Invalidate(actor.UserID)

	s.logger.Info().
		Str("topic", name).
		Str("owner", actor.Username).
		Msg("Auto-created topic on first write")

	return topic, nil
}

// CreateTopic creates a topic owned by the actor and records it on
// the actor's owned_topics. The owned-list write is best effort; the
// topic record is the source of truth for ownership.
func (s *Service) CreateTopic(ctx context.Context, actor *model.User, data model.TopicCreate) (*model.Topic, error) {
	topic, err := s.topics.Create(ctx, actor.UserID, data)
	if err != nil {
		return nil, err
	}

	if !contains(actor.OwnedTopics, topic.TopicName) {
		actor.OwnedTopics = append(actor.OwnedTopics, topic.TopicName)
		if err := s.users.Update(ctx, actor); err != nil {
			s.logger.Warn().
				Err(err).
				Str("username", actor.Username).
				Str("topic", topic.TopicName).
				Msg("Failed to record created topic on owner")
		}
		s.cache.Invalidate(actor.UserID)
	}

	s.logger.Info().
		Str("topic", topic.TopicName).
		Str("owner", actor.Username).
		Msg("Topic created")

	return topic, nil
}

// DeleteTopic removes the topic record and drops it from the actor's
// owned list when present. Reports false for an unknown topic.
func (s *Service) DeleteTopic(ctx context.Context, actor *model.User, name string) (bool, error) {
	deleted, err := s.topics.Delete(ctx, name)
	if err != nil || !deleted {
		return deleted, err
	}

	if contains(actor.OwnedTopics, name) {
		owned := make([]string, 0, len(actor.OwnedTopics)-1)
		for _, t := range actor.OwnedTopics {
			if t != name {
				owned = append(owned, t)
			}
		}
		actor.OwnedTopics = owned
		if err := s.users.Update(ctx, actor); err != nil {
			s.logger.Warn().
				Err(err).
				Str("username", actor.Username).
				Str("topic", name).
				Msg("Failed to drop deleted topic from owner")
		}
		s.cache.Invalidate(actor.UserID)
	}

	s.logger.Info().
		Str("topic", name).
		Str("actor", actor.Username).
		Msg("Topic deleted")

	return true, nil
}

// CreateUser hashes the password and stores a new user record.
func (s *Service) CreateUser(ctx context.Context, data model.UserCreate) (*model.User, error) {
	hash, err := HashPassword(data.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	permissions := data.Permissions
	if permissions == nil {
		permissions = []string{}
	}

	user := &model.User{
		UserID:         uuid.NewString(),
		Username:       data.Username,
		Email:          data.Email,
		HashedPassword: hash,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
		Permissions:    permissions,
		OwnedTopics:    []string{},
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateUser applies a partial update, rehashing the password when one
// is supplied, and invalidates the cache entry.
func (s *Service) UpdateUser(ctx context.Context, userID string, update model.UserUpdate) (*model.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.Email != nil {
		user.Email = *update.Email
	}
	if update.Password != nil {
		hash, err := HashPassword(*update.Password)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		user.HashedPassword = hash
	}
	if update.Permissions != nil {
		user.Permissions = *update.Permissions
	}
	if update.IsActive != nil {
		user.IsActive = *update.IsActive
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	s.cache.Invalidate(userID)
	return user, nil
}

// DeleteUser removes a user record and its cache entry. Reports false
// for an unknown id.
func (s *Service) DeleteUser(ctx context.Context, userID string) (bool, error) {
	deleted, err := s.users.Delete(ctx, userID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.cache.Invalidate(userID)
	}
	return deleted, nil
}
