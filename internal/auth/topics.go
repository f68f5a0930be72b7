package auth

import (
	"context"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// TopicStore persists topic records and ACLs. Create atomically claims
// the topic name with the same one-winner contract as usernames.
type TopicStore interface {
	// Create builds and persists a new topic owned by ownerID.
	Create(ctx context.Context, ownerID string, data model.TopicCreate) (*model.Topic, error)
	Get(ctx context.Context, name string) (*model.Topic, error)

	// ListAccessible returns topics the user owns or was granted.
	ListAccessible(ctx context.Context, userID string) ([]*model.Topic, error)
	ListOwned(ctx context.Context, userID string) ([]*model.Topic, error)

	// GrantAccess adds userID to the topic ACL. ErrAlreadyGranted when
	// the user is already a member.
	GrantAccess(ctx context.Context, name, userID string) error
	// RevokeAccess reports false when the user was not a member.
	RevokeAccess(ctx context.Context, name, userID string) (bool, error)

	// Update patches is_public and description.
	Update(ctx context.Context, name string, update model.TopicUpdate) (*model.Topic, error)
	// Delete removes the topic record, its ACL, and every index entry
	// pointing at it. Reports false for an unknown topic.
	Delete(ctx context.Context, name string) (bool, error)

	// CanAccess decides read or write access:
	// admins always pass; a missing topic passes (the write path
	// auto-creates, the read path checks existence separately); then
	// owner, ACL membership, and finally public topics for reads.
	CanAccess(ctx context.Context, name, userID, kind string, userPermissions []string) (bool, error)
}

// TopicStats summarizes a topic store for the admin stats surface.
type TopicStats struct {
	TotalTopics   int64  `json:"total_topics"`
	PublicTopics  int64  `json:"public_topics"`
	PrivateTopics int64  `json:"private_topics"`
	Backend       string `json:"backend"`
}

// TopicStatsProvider is an optional capability of TopicStore
// implementations.
type TopicStatsProvider interface {
	TopicStats(ctx context.Context) (TopicStats, error)
}
