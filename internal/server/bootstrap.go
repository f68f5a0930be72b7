package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/mvdbeek/pulsar-relay/internal/auth"
	"github.com/mvdbeek/pulsar-relay/internal/config"
	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// Bootstrap seeds initial accounts before the server accepts traffic.
// The memory backend gets well-known development users; persistent
// backends only get the explicitly configured admin so production
// deployments never ship default credentials.
func (s *Server) Bootstrap(ctx context.Context) error {
	if s.cfg.StorageBackend == config.BackendMemory {
		if err := s.seedDefaultUsers(ctx); err != nil {
			return err
		}
	}
	return s.seedBootstrapAdmin(ctx)
}

func (s *Server) seedDefaultUsers(ctx context.Context) error {
	defaults := []model.UserCreate{
		{
			Username:    "admin",
			Email:       "admin@example.com",
			Password:    "admin1234",
			Permissions: []string{"admin", "read", "write"},
		},
		{
			Username:    "user",
			Email:       "user@example.com",
			Password:    "user1234",
			Permissions: []string{"read", "write"},
		},
		{
			Username:    "readonly",
			Email:       "readonly@example.com",
			Password:    "readonly123",
			Permissions: []string{"read"},
		},
	}

	for _, data := range defaults {
		user, err := s.authz.CreateUser(ctx, data)
		if errors.Is(err, auth.ErrUserExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed user %s: %w", data.Username, err)
		}
		s.logger.Info().
			Str("username", user.Username).
			Strs("permissions", user.Permissions).
			Msg("Created default user")
	}
	return nil
}

func (s *Server) seedBootstrapAdmin(ctx context.Context) error {
	username := s.cfg.BootstrapAdminUsername
	password := s.cfg.BootstrapAdminPassword
	if username == "" || password == "" {
		return nil
	}

	email := s.cfg.BootstrapAdminEmail
	if email == "" {
		email = username + "@localhost"
	}

	user, err := s.authz.CreateUser(ctx, model.UserCreate{
		Username:    username,
		Email:       email,
		Password:    password,
		Permissions: []string{"admin", "read", "write"},
	})
	if errors.Is(err, auth.ErrUserExists) {
		s.logger.Info().Str("username", username).Msg("Bootstrap admin already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("seed bootstrap admin: %w", err)
	}

	s.logger.Info().Str("username", user.Username).Msg("Created bootstrap admin")
	return nil
}
