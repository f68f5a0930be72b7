package auth

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// MemoryTopicStore keeps topic records in process memory.
type MemoryTopicStore struct {
	mu     sync.RWMutex
	topics map[string]*model.Topic        // topic_name -> record
	owned  map[string]map[string]struct{} // user_id -> set of topic_names
}

// NewMemoryTopicStore creates an empty topic store.
func NewMemoryTopicStore() *MemoryTopicStore {
	return &MemoryTopicStore{
		topics: make(map[string]*model.Topic),
		owned:  make(map[string]map[string]struct{}),
	}
}

// Create claims the topic name and stores the record.
func (s *MemoryTopicStore) Create(_ context.Context, ownerID string, data model.TopicCreate) (*model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.topics[data.TopicName]; taken {
		return nil, ErrTopicExists
	}

	topic := &model.Topic{
		TopicID:        uuid.NewString(),
		TopicName:      data.TopicName,
		OwnerID:        ownerID,
		IsPublic:       data.IsPublic,
		Description:    data.Description,
		CreatedAt:      time.Now().UTC(),
		AllowedUserIDs: []string{},
	}
	s.topics[data.TopicName] = topic

	if s.owned[ownerID] == nil {
		s.owned[ownerID] = make(map[string]struct{})
	}
	s.owned[ownerID][data.TopicName] = struct{}{}

	return topic.Clone(), nil
}

// Get returns the record or ErrTopicNotFound.
func (s *MemoryTopicStore) Get(_ context.Context, name string) (*model.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	topic, ok := s.topics[name]
	if !ok {
		return nil, ErrTopicNotFound
	}
	return topic.Clone(), nil
}

// ListAccessible returns topics the user owns or is on the ACL of.
func (s *MemoryTopicStore) ListAccessible(_ context.Context, userID string) ([]*model.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Topic
	for _, topic := range s.topics {
		if topic.OwnerID == userID || contains(topic.AllowedUserIDs, userID) {
			out = append(out, topic.Clone())
		}
	}
	return out, nil
}

// ListOwned returns topics owned by the user.
func (s *MemoryTopicStore) ListOwned(_ context.Context, userID string) ([]*model.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Topic
	for name := range s.owned[userID] {
		if topic, ok := s.topics[name]; ok {
			out = append(out, topic.Clone())
		}
	}
	return out, nil
}

// GrantAccess adds the user to the topic ACL.
func (s *MemoryTopicStore) GrantAccess(_ context.Context, name, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	topic, ok := s.topics[name]
	if !ok {
		return ErrTopicNotFound
	}
	if contains(topic.AllowedUserIDs, userID) {
		return ErrAlreadyGranted
	}
	topic.AllowedUserIDs = append(topic.AllowedUserIDs, userID)
	return nil
}

// RevokeAccess removes the user from the topic ACL.
func (s *MemoryTopicStore) RevokeAccess(_ context.Context, name, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topic, ok := s.topics[name]
	if !ok {
		return false, ErrTopicNotFound
	}
	for i, id := range topic.AllowedUserIDs {
		if id == userID {
			topic.AllowedUserIDs = append(topic.AllowedUserIDs[:i], topic.AllowedUserIDs[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Update patches topic metadata.
func (s *MemoryTopicStore) Update(_ context.Context, name string, update model.TopicUpdate) (*model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topic, ok := s.topics[name]
	if !ok {
		return nil, ErrTopicNotFound
	}
	if update.IsPublic != nil {
		topic.IsPublic = *update.IsPublic
	}
	if update.Description != nil {
		topic.Description = *update.Description
	}
	return topic.Clone(), nil
}

// Delete removes the topic and its owner index entry.
func (s *MemoryTopicStore) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topic, ok := s.topics[name]
	if !ok {
		return false, nil
	}
	delete(s.topics, name)
	if set := s.owned[topic.OwnerID]; set != nil {
		delete(set, name)
	}
	return true, nil
}

// CanAccess decides read or write access per the relay's ACL rules.
func (s *MemoryTopicStore) CanAccess(_ context.Context, name, userID, kind string, userPermissions []string) (bool, error) {
	if contains(userPermissions, model.PermissionAdmin) {
		return true, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	topic, ok := s.topics[name]
	if !ok {
		// Missing topics pass: the write path auto-creates.
		return true, nil
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

// TopicStats counts stored topics by visibility.
func (s *MemoryTopicStore) TopicStats(context.Context) (TopicStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := TopicStats{TotalTopics: int64(len(s.topics)), Backend: "memory"}
	for _, topic := range s.topics {
		if topic.IsPublic {
			stats.PublicTopics++
		} else {
			stats.PrivateTopics++
		}
	}
	return stats, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
