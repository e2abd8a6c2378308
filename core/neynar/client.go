package neynar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"soundproof/cache"
	"soundproof/logger"
)

// ErrUserNotFound is returned when no Farcaster user matches a lookup.
var ErrUserNotFound = errors.New("farcaster user not found")

// APIError carries a non-2xx Neynar response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("neynar API error %d: %s", e.Status, e.Message)
}

// Client Neynar v2 REST 客户端
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	store cache.Store
	ttl   time.Duration
}

// NewClient 创建新的API客户端
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithCache enables lookup caching through store.
func (c *Client) WithCache(store cache.Store, ttl time.Duration) *Client {
	c.store = store
	c.ttl = ttl
	return c
}

// SetHTTPClient replaces the underlying HTTP client.
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.httpClient = hc
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	if c.apiKey == "" {
		return fmt.Errorf("NEYNAR_API_KEY is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("api_key", c.apiKey)
	req.Header.Set("accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", endpoint, err)
	}
	return nil
}

// cached wraps a user lookup with the optional cache store.
func (c *Client) cached(ctx context.Context, key string, load func() (*User, error)) (*User, error) {
	if c.store != nil {
		var u User
		ok, err := c.store.GetJSON(ctx, key, &u)
		if err != nil {
			logger.Warn("neynar cache read failed", logger.String("key", key), logger.ErrorField(err))
		} else if ok {
			return &u, nil
		}
	}

	u, err := load()
	if err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.SetJSON(ctx, key, u, c.ttl); err != nil {
			logger.Warn("neynar cache write failed", logger.String("key", key), logger.ErrorField(err))
		}
	}
	return u, nil
}

// GetUserByFID looks a user up via /user/bulk.
func (c *Client) GetUserByFID(ctx context.Context, fid int64) (*User, error) {
	key := "soundproof:neynar:fid:" + strconv.FormatInt(fid, 10)
	return c.cached(ctx, key, func() (*User, error) {
		var resp struct {
			Users []rawUser `json:"users"`
		}
		if err := c.get(ctx, "/user/bulk?fids="+strconv.FormatInt(fid, 10), &resp); err != nil {
			return nil, err
		}
		if len(resp.Users) == 0 {
			return nil, fmt.Errorf("%w: fid %d", ErrUserNotFound, fid)
		}
		u := transformUser(resp.Users[0])
		return &u, nil
	})
}

// usernameEndpoints are tried in order; Neynar has renamed this route before.
var usernameEndpoints = []string{
	"/user/by_username?username=",
	"/user/by-username?username=",
	"/user/search?username=",
}

// GetUserByUsername tries each known username endpoint until one yields a user.
func (c *Client) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrUserNotFound)
	}
	key := "soundproof:neynar:username:" + strings.ToLower(username)
	return c.cached(ctx, key, func() (*User, error) {
		for _, endpoint := range usernameEndpoints {
			var resp usernameResponse
			if err := c.get(ctx, endpoint+url.QueryEscape(username), &resp); err != nil {
				logger.Debug("username endpoint failed",
					logger.String("endpoint", endpoint),
					logger.String("username", username),
					logger.ErrorField(err))
				continue
			}
			if raw := resp.pick(); raw != nil {
				u := transformUser(*raw)
				return &u, nil
			}
		}
		return nil, fmt.Errorf("%w: @%s", ErrUserNotFound, username)
	})
}

// GetUserByVerifiedAddress is the reverse lookup from a verified wallet.
func (c *Client) GetUserByVerifiedAddress(ctx context.Context, address string) (*User, error) {
	key := "soundproof:neynar:address:" + strings.ToLower(address)
	return c.cached(ctx, key, func() (*User, error) {
		var resp struct {
			Users []rawUser `json:"users"`
		}
		if err := c.get(ctx, "/user/by-verification?address="+url.QueryEscape(address), &resp); err != nil {
			return nil, err
		}
		if len(resp.Users) == 0 {
			return nil, fmt.Errorf("%w: address %s", ErrUserNotFound, address)
		}
		u := transformUser(resp.Users[0])
		return &u, nil
	})
}

func pageQuery(fid int64, limit int, cursor string) string {
	params := url.Values{}
	params.Set("fid", strconv.FormatInt(fid, 10))
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	return params.Encode()
}

type nextCursor struct {
	Cursor string `json:"cursor"`
}

// GetUserCasts returns a page of the user's casts.
func (c *Client) GetUserCasts(ctx context.Context, fid int64, limit int, cursor string) (*Page[Cast], error) {
	if limit <= 0 {
		limit = 25
	}
	var resp struct {
		Casts []rawCast    `json:"casts"`
		Next  *nextCursor `json:"next"`
	}
	if err := c.get(ctx, "/feed/user/casts?"+pageQuery(fid, limit, cursor), &resp); err != nil {
		return nil, err
	}
	page := &Page[Cast]{Result: make([]Cast, 0, len(resp.Casts))}
	for _, rc := range resp.Casts {
		page.Result = append(page.Result, transformCast(rc))
	}
	if resp.Next != nil {
		page.Next = resp.Next.Cursor
	}
	return page, nil
}

// GetFollowers returns a page of users following fid.
func (c *Client) GetFollowers(ctx context.Context, fid int64, limit int, cursor string) (*Page[Follow], error) {
	return c.follows(ctx, "/followers?", fid, limit, cursor)
}

// GetFollowing returns a page of users fid follows.
func (c *Client) GetFollowing(ctx context.Context, fid int64, limit int, cursor string) (*Page[Follow], error) {
	return c.follows(ctx, "/following?", fid, limit, cursor)
}

func (c *Client) follows(ctx context.Context, endpoint string, fid int64, limit int, cursor string) (*Page[Follow], error) {
	if limit <= 0 {
		limit = 20
	}
	var resp struct {
		Users []json.RawMessage `json:"users"`
		Next  *nextCursor       `json:"next"`
	}
	if err := c.get(ctx, endpoint+pageQuery(fid, limit, cursor), &resp); err != nil {
		return nil, err
	}
	page := &Page[Follow]{Result: make([]Follow, 0, len(resp.Users))}
	for _, raw := range resp.Users {
		ru, followedAt := decodeFollowEntry(raw)
		page.Result = append(page.Result, Follow{User: transformUser(ru), FollowedAt: followedAt})
	}
	if resp.Next != nil {
		page.Next = resp.Next.Cursor
	}
	return page, nil
}

// decodeFollowEntry accepts both bare users and {"user": ..., "timestamp"} wrappers.
func decodeFollowEntry(raw json.RawMessage) (rawUser, string) {
	var wrapped struct {
		User      *rawUser `json:"user"`
		Timestamp string   `json:"timestamp"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.User != nil {
		ts := wrapped.Timestamp
		if ts == "" {
			ts = time.Now().UTC().Format(time.RFC3339)
		}
		return *wrapped.User, ts
	}
	var ru rawUser
	_ = json.Unmarshal(raw, &ru)
	return ru, time.Now().UTC().Format(time.RFC3339)
}

// HealthCheck fetches fid 3 as a liveness probe.
func (c *Client) HealthCheck(ctx context.Context) bool {
	u, err := c.GetUserByFID(ctx, 3)
	if err != nil {
		logger.Warn("neynar health check failed", logger.ErrorField(err))
		return false
	}
	return u != nil
}
