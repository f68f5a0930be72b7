package auth

import (
	"sync"
	"time"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

// UserCache is a TTL+LRU cache for token-to-user lookups, keyed by
// user_id. It only bounds staleness: entries expire by TTL, and local
// mutations invalidate their key. Other workers' mutations are seen
// once the TTL lapses.
type UserCache struct {
	mu         sync.Mutex
	cache      map[string]*cacheNode
	head, tail *cacheNode
	capacity   int
	ttl        time.Duration
}

type cacheNode struct {
	key        string
	user       *model.User
	expiresAt  time.Time
	prev, next *cacheNode
}

// NewUserCache creates a cache holding up to capacity users for ttl.
func NewUserCache(capacity int, ttl time.Duration) *UserCache {
	head := &cacheNode{}
	tail := &cacheNode{}
	head.next = tail
	tail.prev = head

	return &UserCache{
		cache:    make(map[string]*cacheNode, capacity),
		head:     head,
		tail:     tail,
		capacity: capacity,
		ttl:      ttl,
	}
}

// Get returns the cached user, or false on miss or TTL expiry.
func (c *UserCache) Get(userID string) (*model.User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.cache[userID]
	if !ok {
		return nil, false
	}
	if time.Now().After(node.expiresAt) {
		c.removeNode(node)
		delete(c.cache, userID)
		return nil, false
	}
	c.moveToHead(node)
	return node.user.Clone(), true
}

// Set installs or refreshes an entry, evicting the LRU tail at capacity.
func (c *UserCache) Set(user *model.User) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.cache[user.UserID]; ok {
		node.user = user.Clone()
		node.expiresAt = time.Now().Add(c.ttl)
		c.moveToHead(node)
		return
	}

	if len(c.cache) >= c.capacity {
		tail := c.removeTail()
		delete(c.cache, tail.key)
	}

	node := &cacheNode{
		key:       user.UserID,
		user:      user.Clone(),
		expiresAt: time.Now().Add(c.ttl),
	}
	c.cache[user.UserID] = node
	c.addToHead(node)
}

// Invalidate drops one entry. Called after every local user mutation.
func (c *UserCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if node, ok := c.cache[userID]; ok {
		c.removeNode(node)
		delete(c.cache, userID)
	}
}

// Len reports the number of cached entries, expired or not.
func (c *UserCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

func (c *UserCache) addToHead(node *cacheNode) {
	node.prev = c.head
	node.next = c.head.next
	c.head.next.prev = node
	c.head.next = node
}

func (c *UserCache) removeNode(node *cacheNode) {
	node.prev.next = node.next
	node.next.prev = node.prev
}

func (c *UserCache) moveToHead(node *cacheNode) {
	c.removeNode(node)
	c.addToHead(node)
}

func (c *UserCache) removeTail() *cacheNode {
	tail := c.tail.prev
	c.removeNode(tail)
	return tail
}
