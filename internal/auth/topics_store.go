package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

func topicKey(name string) string        { return "topic:" + name }
func topicAllowedKey(name string) string { return "topic:" + name + ":allowed_users" }
func ownedTopicsKey(userID string) string {
	return "user:" + userID + ":owned_topics"
}
func accessibleTopicsKey(userID string) string {
	return "user:" + userID + ":topics"
}

// RedisTopicStore persists topic records in a Redis-protocol store: a
// hash per topic, a set per topic ACL, and per-user owned/accessible
// index sets.
type RedisTopicStore struct {
	client *redis.Client
}

// NewRedisTopicStore wraps an existing store client.
func NewRedisTopicStore(client *redis.Client) *RedisTopicStore {
	return &RedisTopicStore{client: client}
}

// Create claims the topic name with HSETNX on the topic_id sentinel
// field, then fills in the record and index sets. A failed fill releases
// the claim.
func (s *RedisTopicStore) Create(ctx context.Context, ownerID string, data model.TopicCreate) (*model.Topic, error) {
	topic := &model.Topic{
		TopicID:        uuid.NewString(),
		TopicName:      data.TopicName,
		OwnerID:        ownerID,
		IsPublic:       data.IsPublic,
		Description:    data.Description,
		CreatedAt:      time.Now().UTC(),
		AllowedUserIDs: []string{},
	}

	key := topicKey(data.TopicName)
	claimed, err := s.client.HSetNX(ctx, key, "topic_id", topic.TopicID).Result()
	if err != nil {
		return nil, fmt.Errorf("claim topic %s: %w", data.TopicName, err)
	}
	if !claimed {
		return nil, ErrTopicExists
	}

	err = s.client.HSet(ctx, key, map[string]any{
		"topic_name":  topic.TopicName,
		"owner_id":    topic.OwnerID,
		"is_public":   boolField(topic.IsPublic),
		"description": topic.Description,
		"created_at":  topic.CreatedAt.Format(time.RFC3339Nano),
	}).Err()
	if err == nil {
		err = s.client.SAdd(ctx, ownedTopicsKey(ownerID), data.TopicName).Err()
	}
	if err == nil {
		err = s.client.SAdd(ctx, accessibleTopicsKey(ownerID), data.TopicName).Err()
	}
	if err != nil {
		s.client.Del(context.WithoutCancel(ctx), key)
		return nil, fmt.Errorf("write topic %s: %w", data.TopicName, err)
	}
	return topic, nil
}

// Get reads the topic hash and its ACL set.
func (s *RedisTopicStore) Get(ctx context.Context, name string) (*model.Topic, error) {
	fields, err := s.client.HGetAll(ctx, topicKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("read topic %s: %w", name, err)
	}
	if len(fields) == 0 {
		return nil, ErrTopicNotFound
	}

	allowed, err := s.client.SMembers(ctx, topicAllowedKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("read topic acl %s: %w", name, err)
	}

	topic := &model.Topic{
		TopicID:        fields["topic_id"],
		TopicName:      fields["topic_name"],
		OwnerID:        fields["owner_id"],
		IsPublic:       parseBoolField(fields["is_public"]),
		Description:    fields["description"],
		AllowedUserIDs: allowed,
	}
	if topic.AllowedUserIDs == nil {
		topic.AllowedUserIDs = []string{}
	}
	if raw := fields["created_at"]; raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode created_at of %s: %w", name, err)
		}
		topic.CreatedAt = ts
	}
	return topic, nil
}

// ListAccessible reads the user's accessible index set.
func (s *RedisTopicStore) ListAccessible(ctx context.Context, userID string) ([]*model.Topic, error) {
	return s.listFromSet(ctx, accessibleTopicsKey(userID))
}

// ListOwned reads the user's owned index set.
func (s *RedisTopicStore) ListOwned(ctx context.Context, userID string) ([]*model.Topic, error) {
	return s.listFromSet(ctx, ownedTopicsKey(userID))
}

func (s *RedisTopicStore) listFromSet(ctx context.Context, key string) ([]*model.Topic, error) {
	names, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read topic set %s: %w", key, err)
	}

	out := make([]*model.Topic, 0, len(names))
	for _, name := range names {
		topic, err := s.Get(ctx, name)
		if err == ErrTopicNotFound {
			continue // index entry racing a delete
		}
		if err != nil {
			return nil, err
		}
		out = append(out, topic)
	}
	return out, nil
}

// GrantAccess adds the user to the ACL set. SADD reporting zero added
// members means the grant already existed.
func (s *RedisTopicStore) GrantAccess(ctx context.Context, name, userID string) error {
	exists, err := s.client.Exists(ctx, topicKey(name)).Result()
	if err != nil {
		return fmt.Errorf("check topic %s: %w", name, err)
	}
	if exists == 0 {
		return ErrTopicNotFound
	}

	added, err := s.client.SAdd(ctx, topicAllowedKey(name), userID).Result()
	if err != nil {
		return fmt.Errorf("grant %s on %s: %w", userID, name, err)
	}
	if added == 0 {
		return ErrAlreadyGranted
	}
	if err := s.client.SAdd(ctx, accessibleTopicsKey(userID), name).Err(); err != nil {
		return fmt.Errorf("index grant %s on %s: %w", userID, name, err)
	}
	return nil
}

// RevokeAccess removes the user from the ACL set.
func (s *RedisTopicStore) RevokeAccess(ctx context.Context, name, userID string) (bool, error) {
	exists, err := s.client.Exists(ctx, topicKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("check topic %s: %w", name, err)
	}
	if exists == 0 {
		return false, ErrTopicNotFound
	}

	removed, err := s.client.SRem(ctx, topicAllowedKey(name), userID).Result()
	if err != nil {
		return false, fmt.Errorf("revoke %s on %s: %w", userID, name, err)
	}
	if removed == 0 {
		return false, nil
	}
	if err := s.client.SRem(ctx, accessibleTopicsKey(userID), name).Err(); err != nil {
		return false, fmt.Errorf("index revoke %s on %s: %w", userID, name, err)
	}
	return true, nil
}

// Update patches topic metadata.
func (s *RedisTopicStore) Update(ctx context.Context, name string, update model.TopicUpdate) (*model.Topic, error) {
	exists, err := s.client.Exists(ctx, topicKey(name)).Result()
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", name, err)
	}
	if exists == 0 {
		return nil, ErrTopicNotFound
	}

	fields := make(map[string]any)
	if update.IsPublic != nil {
		fields["is_public"] = boolField(*update.IsPublic)
	}
	if update.Description != nil {
		fields["description"] = *update.Description
	}
	if len(fields) > 0 {
		if err := s.client.HSet(ctx, topicKey(name), fields).Err(); err != nil {
			return nil, fmt.Errorf("write topic %s: %w", name, err)
		}
	}
	return s.Get(ctx, name)
}

// Delete removes the topic hash, its ACL set, and every index entry
// pointing at the topic.
func (s *RedisTopicStore) Delete(ctx context.Context, name string) (bool, error) {
	topic, err := s.Get(ctx, name)
	if err == ErrTopicNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := s.client.Del(ctx, topicKey(name), topicAllowedKey(name)).Err(); err != nil {
		return false, fmt.Errorf("delete topic %s: %w", name, err)
	}
	if err := s.client.SRem(ctx, ownedTopicsKey(topic.OwnerID), name).Err(); err != nil {
		return false, fmt.Errorf("drop owned index %s: %w", name, err)
	}
	if err := s.client.SRem(ctx, accessibleTopicsKey(topic.OwnerID), name).Err(); err != nil {
		return false, fmt.Errorf("drop accessible index %s: %w", name, err)
	}
	for _, userID := range topic.AllowedUserIDs {
		if err := s.client.SRem(ctx, accessibleTopicsKey(userID), name).Err(); err != nil {
			return false, fmt.Errorf("drop accessible index %s for %s: %w", name, userID, err)
		}
	}
	return true, nil
}

// CanAccess decides read or write access per the relay's ACL rules.
func (s *RedisTopicStore) CanAccess(ctx context.Context, name, userID, kind string, userPermissions []string) (bool, error) {
	if contains(userPermissions, model.PermissionAdmin) {
		return true, nil
	}

	topic, err := s.Get(ctx, name)
	if err == ErrTopicNotFound {
		// Missing topics pass: the write path auto-creates.
		return true, nil
	}
	if err != nil {
		return false, err
	}

	if topic.OwnerID == userID {
		return true, nil
	}
	if contains(topic.AllowedUserIDs, userID) {
		return true, nil
	}
	if kind == model.PermissionRead && topic.IsPublic {
		return true, nil
	}
	return false, nil
}

// TopicStats walks the topic keyspace.
func (s *RedisTopicStore) TopicStats(ctx context.Context) (TopicStats, error) {
	stats := TopicStats{Backend: "store"}

	iter := s.client.Scan(ctx, 0, "topic:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if strings.HasSuffix(key, ":allowed_users") {
			continue
		}
		stats.TotalTopics++
		isPublic, err := s.client.HGet(ctx, key, "is_public").Result()
		if err != nil && err != redis.Nil {
			return stats, fmt.Errorf("read %s: %w", key, err)
		}
		if parseBoolField(isPublic) {
			stats.PublicTopics++
		} else {
			stats.PrivateTopics++
		}
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("scan topics: %w", err)
	}
	return stats, nil
}
