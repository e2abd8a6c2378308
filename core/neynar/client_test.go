package neynar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"soundproof/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aliceJSON = `{
	"fid": 42,
	"username": "alice",
	"display_name": "Alice",
	"pfp_url": "https://img/alice.png",
	"profile": {"bio": {"text": "makes beats"}},
	"follower_count": 10,
	"following_count": 5,
	"verified_addresses": {"eth_addresses": ["0xAbC0000000000000000000000000000000000001"]},
	"active_status": "active"
}`

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key")
}

func TestTransformUserDefaults(t *testing.T) {
	u := transformUser(rawUser{FID: 7, Username: "bob"})
	assert.Equal(t, "bob", u.DisplayName)
	assert.Equal(t, "inactive", u.ActiveStatus)
	assert.NotNil(t, u.Verifications)
	assert.Empty(t, u.Verifications)
}

func TestGetUserByFID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user/bulk", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("fids"))
		assert.Equal(t, "test-key", r.Header.Get("api_key"))
		w.Write([]byte(`{"users":[` + aliceJSON + `]}`))
	})

	u, err := c.GetUserByFID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.FID)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, "https://img/alice.png", u.PfpURL)
	assert.Equal(t, "makes beats", u.Bio)
	assert.Equal(t, 10, u.FollowerCount)
	assert.Equal(t, []string{"0xAbC0000000000000000000000000000000000001"}, u.Verifications)
}

func TestGetUserByFIDNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"users":[]}`))
	})
	_, err := c.GetUserByFID(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestGetUserByUsernameFallsBack(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/user/by_username":
			http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
		case "/user/by-username":
			w.Write([]byte(`{}`))
		case "/user/search":
			assert.Equal(t, "alice", r.URL.Query().Get("username"))
			w.Write([]byte(`{"result":{"users":[` + aliceJSON + `]}}`))
		}
	})

	u, err := c.GetUserByUsername(context.Background(), "@alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, []string{"/user/by_username", "/user/by-username", "/user/search"}, paths)
}

func TestGetUserByUsernameNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	_, err := c.GetUserByUsername(context.Background(), "ghost")
	assert.True(t, errors.Is(err, ErrUserNotFound))
}

func TestUserLookupsAreCached(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Write([]byte(`{"user":` + aliceJSON + `}`))
	})
	c.WithCache(cache.NewMemoryStore(), time.Minute)

	for i := 0; i < 3; i++ {
		u, err := c.GetUserByUsername(context.Background(), "Alice")
		require.NoError(t, err)
		assert.Equal(t, int64(42), u.FID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGetFollowersPagination(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/followers", r.URL.Path)
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"users":[{"user":` + aliceJSON + `,"timestamp":"2024-01-01T00:00:00Z"},` + aliceJSON + `],"next":{"cursor":"def"}}`))
	})

	page, err := c.GetFollowers(context.Background(), 9, 0, "abc")
	require.NoError(t, err)
	require.Len(t, page.Result, 2)
	assert.Equal(t, "2024-01-01T00:00:00Z", page.Result[0].FollowedAt)
	assert.Equal(t, "alice", page.Result[1].User.Username)
	assert.NotEmpty(t, page.Result[1].FollowedAt)
	assert.Equal(t, "def", page.Next)
}

func TestGetUserCasts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feed/user/casts", r.URL.Path)
		w.Write([]byte(`{"casts":[{"hash":"0x1","text":"new track","author":` + aliceJSON + `,"reactions":{"likes_count":3}}]}`))
	})

	page, err := c.GetUserCasts(context.Background(), 42, 0, "")
	require.NoError(t, err)
	require.Len(t, page.Result, 1)
	cast := page.Result[0]
	assert.Equal(t, "0x1", cast.ThreadHash)
	assert.Equal(t, 3, cast.LikesCount)
	assert.Equal(t, "alice", cast.Author.Username)
	assert.Empty(t, page.Next)
}

func TestAPIErrorMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad key"}`))
	})
	_, err := c.GetUserByVerifiedAddress(context.Background(), "0x1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "bad key", apiErr.Message)
}

func TestHealthCheck(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("fids"))
		w.Write([]byte(`{"users":[{"fid":3,"username":"dwr"}]}`))
	})
	assert.True(t, c.HealthCheck(context.Background()))

	assert.False(t, NewClient("http://127.0.0.1:0", "").HealthCheck(context.Background()))
}
