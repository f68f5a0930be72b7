package model

import (
	"fmt"
	"unicode"
)

// ValidationError marks a schema-level violation; the HTTP layer maps it
// to 422.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Request size limits.
const (
	MaxTopicNameLen   = 255
	MaxDescriptionLen = 500
	MinUsernameLen    = 3
	MaxUsernameLen    = 50
	MinPasswordLen    = 8
	MaxBulkMessages   = 100
	MaxSubscribeTopic = 50
	MaxClientIDLen    = 255
	MinPollTimeout    = 1
	MaxPollTimeout    = 60
)

// ValidateTopicName enforces 1..255 characters which are alphanumeric
// once hyphens and underscores are stripped.
func ValidateTopicName(name string) error {
	if len(name) == 0 || len(name) > MaxTopicNameLen {
		return invalid("topic", "must be 1-255 characters")
	}
	seen := false
	for _, r := range name {
		if r == '-' || r == '_' {
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return invalid("topic", "must contain only alphanumeric characters, hyphens, and underscores")
		}
		seen = true
	}
	if !seen {
		return invalid("topic", "must contain only alphanumeric characters, hyphens, and underscores")
	}
	return nil
}

// validPermission reports whether p is one of admin, read, write.
func validPermission(p string) bool {
	return p == PermissionAdmin || p == PermissionRead || p == PermissionWrite
}

// ValidatePermissions rejects unknown permission values.
func ValidatePermissions(perms []string) error {
	for _, p := range perms {
		if !validPermission(p) {
			return invalid("permissions", fmt.Sprintf("unknown permission %q", p))
		}
	}
	return nil
}

// Validate checks a registration request.
func (u UserCreate) Validate() error {
	if len(u.Username) < MinUsernameLen || len(u.Username) > MaxUsernameLen {
		return invalid("username", "must be 3-50 characters")
	}
	if len(u.Password) < MinPasswordLen {
		return invalid("password", "must be at least 8 characters")
	}
	return ValidatePermissions(u.Permissions)
}

// Validate checks a partial user update.
func (u UserUpdate) Validate() error {
	if u.Password != nil && len(*u.Password) < MinPasswordLen {
		return invalid("password", "must be at least 8 characters")
	}
	if u.Permissions != nil {
		return ValidatePermissions(*u.Permissions)
	}
	return nil
}

// Validate checks a topic creation request.
func (t TopicCreate) Validate() error {
	if err := ValidateTopicName(t.TopicName); err != nil {
		return err
	}
	if len(t.Description) > MaxDescriptionLen {
		return invalid("description", "must be at most 500 characters")
	}
	return nil
}

// Validate checks a topic metadata update.
func (t TopicUpdate) Validate() error {
	if t.Description != nil && len(*t.Description) > MaxDescriptionLen {
		return invalid("description", "must be at most 500 characters")
	}
	return nil
}

// Validate checks a single publish body.
func (m PublishRequest) Validate() error {
	if err := ValidateTopicName(m.Topic); err != nil {
		return err
	}
	if m.Payload == nil {
		return invalid("payload", "must be a JSON object")
	}
	if m.TTL < 0 {
		return invalid("ttl", "must be greater than 0")
	}
	return nil
}

// Validate checks a bulk publish body, 1..100 messages.
func (b BulkPublishRequest) Validate() error {
	if len(b.Messages) == 0 || len(b.Messages) > MaxBulkMessages {
		return invalid("messages", "must contain 1-100 messages")
	}
	for i, m := range b.Messages {
		if err := m.Validate(); err != nil {
			return invalid(fmt.Sprintf("messages[%d]", i), err.Error())
		}
	}
	return nil
}

// Validate checks the poll body; the timeout is clamped elsewhere.
func (p PollRequest) Validate() error {
	if len(p.Topics) == 0 {
		return invalid("topics", "at least one topic required")
	}
	for _, t := range p.Topics {
		if err := ValidateTopicName(t); err != nil {
			return err
		}
	}
	return nil
}

// ClampTimeout normalizes the poll timeout to [1, 60] seconds, defaulting
// to 30 when absent.
func (p PollRequest) ClampTimeout() int {
	switch {
	case p.Timeout == 0:
		return 30
	case p.Timeout < MinPollTimeout:
		return MinPollTimeout
	case p.Timeout > MaxPollTimeout:
		return MaxPollTimeout
	default:
		return p.Timeout
	}
}

// ValidateSubscribe checks the first WebSocket frame of a session.
func (f ClientFrame) ValidateSubscribe() error {
	if f.Type != FrameSubscribe {
		return invalid("type", "first frame must be subscribe")
	}
	if len(f.Topics) == 0 || len(f.Topics) > MaxSubscribeTopic {
		return invalid("topics", "must contain 1-50 topics")
	}
	for _, t := range f.Topics {
		if err := ValidateTopicName(t); err != nil {
			return err
		}
	}
	if len(f.ClientID) == 0 || len(f.ClientID) > MaxClientIDLen {
		return invalid("client_id", "must be 1-255 characters")
	}
	return nil
}
