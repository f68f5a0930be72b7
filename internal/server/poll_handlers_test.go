package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/model"
	"github.com/mvdbeek/pulsar-relay/internal/storage"
)

func TestPollCatchUp(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	first := relay.publish(t, token, "feed", map[string]any{"n": 1})
	second := relay.publish(t, token, "feed", map[string]any{"n": 2})

	// An empty cursor reads from the beginning.
	resp := relay.request(t, http.MethodPost, "/messages/poll", token, model.PollRequest{
		Topics: []string{"feed"},
		Since:  map[string]string{"feed": ""},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var poll model.PollResponse
	decodeBody(t, resp, &poll)
	require.Len(t, poll.Messages, 2)
	assert.Equal(t, first.MessageID, poll.Messages[0].MessageID)
	assert.Equal(t, second.MessageID, poll.Messages[1].MessageID)
	assert.False(t, poll.HasMore)

	// A cursor resumes strictly after the named message.
	resp = relay.request(t, http.MethodPost, "/messages/poll", token, model.PollRequest{
		Topics: []string{"feed"},
		Since:  map[string]string{"feed": first.MessageID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &poll)
	require.Len(t, poll.Messages, 1)
	assert.Equal(t, second.MessageID, poll.Messages[0].MessageID)
}

func TestPollCatchUpMissingSinceKeyReadsFromStart(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	relay.publish(t, token, "feed-a", map[string]any{"n": 1})
	relay.publish(t, token, "feed-b", map[string]any{"n": 2})

	// since names only feed-a; feed-b still reads from the beginning.
	resp := relay.request(t, http.MethodPost, "/messages/poll", token, model.PollRequest{
		Topics: []string{"feed-a", "feed-b"},
		Since:  map[string]string{"feed-a": ""},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var poll model.PollResponse
	decodeBody(t, resp, &poll)

	topics := make(map[string]int)
	for _, event := range poll.Messages {
		topics[event.Topic]++
	}
	assert.Equal(t, 1, topics["feed-a"])
	assert.Equal(t, 1, topics["feed-b"])
}

func TestPollHasMoreOnFullPage(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	ctx := context.Background()
	for i := 0; i < storage.MaxRangeLimit+5; i++ {
		_, err := relay.log.Append(ctx, "firehose", map[string]any{"n": i}, time.Now().UTC(), nil)
		require.NoError(t, err)
	}

	resp := relay.request(t, http.MethodPost, "/messages/poll", token, model.PollRequest{
		Topics: []string{"firehose"},
		Since:  map[string]string{"firehose": ""},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var poll model.PollResponse
	decodeBody(t, resp, &poll)
	assert.Len(t, poll.Messages, storage.MaxRangeLimit)
	assert.True(t, poll.HasMore)
}

func TestPollTimesOutEmpty(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	start := time.Now()
	resp := relay.request(t, http.MethodPost, "/messages/poll", token, model.PollRequest{
		Topics:  []string{"silent"},
		Timeout: 1,
	})
	elapsed := time.Since(start)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var poll model.PollResponse
	decodeBody(t, resp, &poll)
	assert.Empty(t, poll.Messages)
	assert.NotNil(t, poll.Messages)
	assert.False(t, poll.HasMore)
	assert.GreaterOrEqual(t, elapsed, time.Second)
}

func TestPollWakesOnPublish(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	type result struct {
		poll    model.PollResponse
		elapsed time.Duration
		err     error
	}
	done := make(chan result, 1)

	go func() {
		body := bytes.NewReader([]byte(`{"topics": ["wake"], "timeout": 10}`))
		req, err := http.NewRequest(http.MethodPost, relay.http.URL+"/messages/poll", body)
		if err != nil {
			done <- result{err: err}
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		start := time.Now()
		resp, err := relay.http.Client().Do(req)
		if err != nil {
			done <- result{err: err}
			return
		}
		defer resp.Body.Close()

		var poll model.PollResponse
		err = json.NewDecoder(resp.Body).Decode(&poll)
		done <- result{poll: poll, elapsed: time.Since(start), err: err}
	}()

	// Give the poll request time to park its waiter.
	require.Eventually(t, func() bool {
		return relay.server.pollHub.Stats().ActiveWaiters > 0
	}, 2*time.Second, 10*time.Millisecond)

	ack := relay.publish(t, token, "wake", map[string]any{"n": 1})

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Len(t, got.poll.Messages, 1)
		assert.Equal(t, ack.MessageID, got.poll.Messages[0].MessageID)
		assert.Equal(t, "wake", got.poll.Messages[0].Topic)
		assert.Less(t, got.elapsed, 5*time.Second)
	case <-time.After(8 * time.Second):
		t.Fatal("poll never woke up")
	}
}

func TestPollValidation(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	resp := relay.request(t, http.MethodPost, "/messages/poll", token, model.PollRequest{})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "topics: at least one topic required", bodyDetail(t, resp))
}

func TestPollRequiresRead(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodPost, "/auth/register", admin, model.UserCreate{
		Username:    "writer-only",
		Password:    "password123",
		Permissions: []string{"write"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	token := relay.login(t, "writer-only", "password123")

	resp = relay.request(t, http.MethodPost, "/messages/poll", token, model.PollRequest{
		Topics: []string{"anything"},
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Permission 'read' required", bodyDetail(t, resp))
}

func TestPollStats(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")
	user := relay.login(t, "user", "user1234")

	resp := relay.request(t, http.MethodGet, "/messages/poll/stats", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		ActiveWaiters    int            `json:"active_waiters"`
		SubscribedTopics int            `json:"subscribed_topics"`
		TopicSubscribers map[string]int `json:"topic_subscriber_counts"`
	}
	decodeBody(t, resp, &stats)
	assert.Zero(t, stats.ActiveWaiters)

	resp = relay.request(t, http.MethodGet, "/messages/poll/stats", user, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}
