package model

import (
	"time"
)

// Permission values recognized in user records and tokens.
const (
	PermissionAdmin = "admin"
	PermissionRead  = "read"
	PermissionWrite = "write"
)

// User is the full user record, including the password hash. Never
// serialized to clients; use Public() for API responses.
type User struct {
	UserID         string    `json:"user_id"`
	Username       string    `json:"username"`
	Email          string    `json:"email,omitempty"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	Permissions    []string  `json:"permissions"`
	OwnedTopics    []string  `json:"owned_topics"`
}

// HasPermission reports whether the user carries the given permission.
func (u *User) HasPermission(perm string) bool {
	for _, p := range u.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Stores hand out copies so callers can
// mutate them without racing the backing maps.
func (u *User) Clone() *User {
	c := *u
	c.Permissions = append([]string(nil), u.Permissions...)
	c.OwnedTopics = append([]string(nil), u.OwnedTopics...)
	return &c
}

// UserPublic is the client-visible projection of a User.
type UserPublic struct {
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	Permissions []string  `json:"permissions"`
	OwnedTopics []string  `json:"owned_topics"`
}

// Public strips credentials for API responses.
func (u *User) Public() UserPublic {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	owned := u.OwnedTopics
	if owned == nil {
		owned = []string{}
	}
	return UserPublic{
		UserID:      u.UserID,
		Username:    u.Username,
		Email:       u.Email,
		IsActive:    u.IsActive,
		CreatedAt:   u.CreatedAt,
		Permissions: perms,
		OwnedTopics: owned,
	}
}

// UserCreate is the admin-facing registration request.
type UserCreate struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	Password    string   `json:"password"`
	Permissions []string `json:"permissions"`
}

// UserUpdate is a partial update; nil fields are left untouched.
type UserUpdate struct {
	Email       *string   `json:"email"`
	Password    *string   `json:"password"`
	Permissions *[]string `json:"permissions"`
	IsActive    *bool     `json:"is_active"`
}

// TokenResponse is the OAuth2-style login reply.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Topic is the stored topic record.
type Topic struct {
	TopicID        string    `json:"topic_id"`
	TopicName      string    `json:"topic_name"`
	OwnerID        string    `json:"owner_id"`
	IsPublic       bool      `json:"is_public"`
	AllowedUserIDs []string  `json:"allowed_user_ids"`
	CreatedAt      time.Time `json:"created_at"`
	Description    string    `json:"description,omitempty"`
}

// Clone returns a deep copy of the topic record.
func (t *Topic) Clone() *Topic {
	c := *t
	c.AllowedUserIDs = append([]string(nil), t.AllowedUserIDs...)
	return &c
}

// TopicPublic is the client-visible projection of a Topic. AllowedUserIDs
// is only populated for the owner; everyone else gets null.
type TopicPublic struct {
	TopicID        string    `json:"topic_id"`
	TopicName      string    `json:"topic_name"`
	OwnerID        string    `json:"owner_id"`
	IsPublic       bool      `json:"is_public"`
	CreatedAt      time.Time `json:"created_at"`
	Description    string    `json:"description"`
	AllowedUserIDs []string  `json:"allowed_user_ids"`
}

// Public projects the topic for the given viewer.
func (t *Topic) Public(viewerID string) TopicPublic {
	p := TopicPublic{
		TopicID:     t.TopicID,
		TopicName:   t.TopicName,
		OwnerID:     t.OwnerID,
		IsPublic:    t.IsPublic,
		CreatedAt:   t.CreatedAt,
		Description: t.Description,
	}
	if viewerID == t.OwnerID {
		p.AllowedUserIDs = t.AllowedUserIDs
		if p.AllowedUserIDs == nil {
			p.AllowedUserIDs = []string{}
		}
	}
	return p
}

// TopicCreate is the topic creation request.
type TopicCreate struct {
	TopicName   string `json:"topic_name"`
	IsPublic    bool   `json:"is_public"`
	Description string `json:"description"`
}

// TopicUpdate carries optional metadata changes.
type TopicUpdate struct {
	IsPublic    *bool   `json:"is_public"`
	Description *string `json:"description"`
}

// TopicPermissionGrant targets a user by id or by username.
type TopicPermissionGrant struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// TopicPermission is one ACL entry as reported by the API.
type TopicPermission struct {
	TopicName string    `json:"topic_name"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	GrantedAt time.Time `json:"granted_at"`
}

// StoredMessage is one entry read back from a topic log.
type StoredMessage struct {
	MessageID string            `json:"message_id"`
	Topic     string            `json:"topic"`
	Payload   map[string]any    `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PublishRequest is the inbound message body for POST /api/v1/messages.
// TTL is accepted for producer compatibility; retention is enforced at
// the stream level.
type PublishRequest struct {
	Topic    string            `json:"topic"`
	Payload  map[string]any    `json:"payload"`
	TTL      int               `json:"ttl,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MessageResponse acknowledges a single accepted publish.
type MessageResponse struct {
	MessageID string    `json:"message_id"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// BulkPublishRequest carries 1..100 messages.
type BulkPublishRequest struct {
	Messages []PublishRequest `json:"messages"`
}

// Bulk result statuses.
const (
	BulkAccepted = "accepted"
	BulkRejected = "rejected"
)

// BulkPublishResult is the per-message outcome inside a bulk response.
type BulkPublishResult struct {
	MessageID string `json:"message_id,omitempty"`
	Topic     string `json:"topic"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// BulkPublishResponse is the 207 multi-status reply.
type BulkPublishResponse struct {
	Results []BulkPublishResult `json:"results"`
	Summary BulkSummary         `json:"summary"`
}

// BulkSummary totals a bulk request.
type BulkSummary struct {
	Total    int `json:"total"`
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// PollRequest is the long-poll body. Since maps topic name to the last
// message id the client has seen (exclusive).
type PollRequest struct {
	Topics  []string          `json:"topics"`
	Since   map[string]string `json:"since,omitempty"`
	Timeout int               `json:"timeout"`
}

// PollResponse returns batched events. HasMore hints that an immediate
// re-poll with an updated cursor may yield more.
type PollResponse struct {
	Messages []*Event `json:"messages"`
	HasMore  bool     `json:"has_more"`
}

// HealthResponse is the liveness reply.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ReadinessResponse reports dependency checks.
type ReadinessResponse struct {
	Ready  bool              `json:"ready"`
	Checks map[string]string `json:"checks"`
}
