package server

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvdbeek/pulsar-relay/internal/model"
)

func TestLogin(t *testing.T) {
	relay := newDefaultRelay(t)

	resp, err := http.PostForm(relay.http.URL+"/auth/login", url.Values{
		"username": {"admin"},
		"password": {"admin1234"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var token model.TokenResponse
	decodeBody(t, resp, &token)
	assert.Equal(t, "bearer", token.TokenType)
	assert.Equal(t, 3600, token.ExpiresIn)
	assert.NotEmpty(t, token.AccessToken)
}

func TestLoginWrongPassword(t *testing.T) {
	relay := newDefaultRelay(t)

	resp, err := http.PostForm(relay.http.URL+"/auth/login", url.Values{
		"username": {"admin"},
		"password": {"wrong"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	assert.Equal(t, "Incorrect username or password", bodyDetail(t, resp))
}

func TestLoginMissingFields(t *testing.T) {
	relay := newDefaultRelay(t)

	resp, err := http.PostForm(relay.http.URL+"/auth/login", url.Values{
		"username": {"admin"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "username and password are required", bodyDetail(t, resp))
}

func TestLoginInactiveUser(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	// Look up the target id, deactivate, then try to log in.
	resp := relay.request(t, http.MethodGet, "/auth/users", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var users []model.UserPublic
	decodeBody(t, resp, &users)

	var target string
	for _, u := range users {
		if u.Username == "readonly" {
			target = u.UserID
		}
	}
	require.NotEmpty(t, target)

	inactive := false
	resp = relay.request(t, http.MethodPatch, "/auth/users/"+target, admin,
		model.UserUpdate{IsActive: &inactive})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	loginResp, err := http.PostForm(relay.http.URL+"/auth/login", url.Values{
		"username": {"readonly"},
		"password": {"readonly123"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, loginResp.StatusCode)
	assert.Equal(t, "User account is inactive", bodyDetail(t, loginResp))
}

func TestLoginRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.LoginRatePerSecond = 0.1
	cfg.LoginRateBurst = 2
	relay := newTestRelay(t, cfg)

	for i := 0; i < 2; i++ {
		resp, err := http.PostForm(relay.http.URL+"/auth/login", url.Values{
			"username": {"admin"},
			"password": {"admin1234"},
		})
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.PostForm(relay.http.URL+"/auth/login", url.Values{
		"username": {"admin"},
		"password": {"admin1234"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "Too many login attempts", bodyDetail(t, resp))
}

func TestMe(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	resp := relay.request(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me model.UserPublic
	decodeBody(t, resp, &me)
	assert.Equal(t, "user", me.Username)
	assert.ElementsMatch(t, []string{"read", "write"}, me.Permissions)
}

func TestMeRequiresToken(t *testing.T) {
	relay := newDefaultRelay(t)

	resp := relay.request(t, http.MethodGet, "/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	assert.Equal(t, "Not authenticated", bodyDetail(t, resp))
}

func TestMeRejectsGarbageToken(t *testing.T) {
	relay := newDefaultRelay(t)

	resp := relay.request(t, http.MethodGet, "/auth/me", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
	assert.Equal(t, "Invalid or expired token", bodyDetail(t, resp))
}

func TestRegister(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodPost, "/auth/register", admin, model.UserCreate{
		Username:    "newcomer",
		Email:       "newcomer@example.com",
		Password:    "password123",
		Permissions: []string{"read"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created model.UserPublic
	decodeBody(t, resp, &created)
	assert.Equal(t, "newcomer", created.Username)
	assert.True(t, created.IsActive)
	assert.NotEmpty(t, created.UserID)

	relay.login(t, "newcomer", "password123")
}

func TestRegisterDuplicateUsername(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodPost, "/auth/register", admin, model.UserCreate{
		Username: "user",
		Password: "password123",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Username 'user' already exists", bodyDetail(t, resp))
}

func TestRegisterValidation(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodPost, "/auth/register", admin, model.UserCreate{
		Username: "ab",
		Password: "password123",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "username: must be 3-50 characters", bodyDetail(t, resp))
}

func TestRegisterRequiresAdmin(t *testing.T) {
	relay := newDefaultRelay(t)
	token := relay.login(t, "user", "user1234")

	resp := relay.request(t, http.MethodPost, "/auth/register", token, model.UserCreate{
		Username: "intruder",
		Password: "password123",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "Permission 'admin' required", bodyDetail(t, resp))
}

func TestListUsers(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodGet, "/auth/users", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var users []model.UserPublic
	decodeBody(t, resp, &users)

	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	assert.ElementsMatch(t, []string{"admin", "user", "readonly"}, names)
}

func TestUpdateUserNotFound(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	email := "ghost@example.com"
	resp := relay.request(t, http.MethodPatch, "/auth/users/ghost-id", admin,
		model.UserUpdate{Email: &email})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "User with ID 'ghost-id' not found", bodyDetail(t, resp))
}

func TestDeleteUser(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodPost, "/auth/register", admin, model.UserCreate{
		Username: "doomed",
		Password: "password123",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created model.UserPublic
	decodeBody(t, resp, &created)

	resp = relay.request(t, http.MethodDelete, "/auth/users/"+created.UserID, admin, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = relay.request(t, http.MethodDelete, "/auth/users/"+created.UserID, admin, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "User with ID '"+created.UserID+"' not found", bodyDetail(t, resp))
}

func TestDeleteSelfRefused(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodGet, "/auth/me", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me model.UserPublic
	decodeBody(t, resp, &me)

	resp = relay.request(t, http.MethodDelete, "/auth/users/"+me.UserID, admin, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Cannot delete your own user account", bodyDetail(t, resp))
}

func TestUserStats(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")

	resp := relay.request(t, http.MethodGet, "/auth/users/stats", admin, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		TotalUsers  int64  `json:"total_users"`
		ActiveUsers int64  `json:"active_users"`
		Backend     string `json:"backend"`
	}
	decodeBody(t, resp, &stats)
	assert.Equal(t, int64(3), stats.TotalUsers)
	assert.Equal(t, int64(3), stats.ActiveUsers)
	assert.Equal(t, "memory", stats.Backend)
}

func TestDeactivatedUserRejectedOnNextRequest(t *testing.T) {
	relay := newDefaultRelay(t)
	admin := relay.login(t, "admin", "admin1234")
	token := relay.login(t, "readonly", "readonly123")

	resp := relay.request(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me model.UserPublic
	decodeBody(t, resp, &me)

	inactive := false
	resp = relay.request(t, http.MethodPatch, "/auth/users/"+me.UserID, admin,
		model.UserUpdate{IsActive: &inactive})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = relay.request(t, http.MethodGet, "/auth/me", token, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "User is inactive", bodyDetail(t, resp))
}
