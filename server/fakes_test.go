package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"soundproof/core/auth"
	"soundproof/core/neynar"
	"soundproof/core/playback"
	"soundproof/core/taco"
	"soundproof/core/upload"
	"soundproof/model"
	"soundproof/repository"
)

const aliceWallet = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"

type memTracks struct {
	mu      sync.Mutex
	tracks  map[int64]*model.Track
	nextID  int64
	queries int
}

func newMemTracks(tracks ...*model.Track) *memTracks {
	m := &memTracks{tracks: map[int64]*model.Track{}}
	for _, t := range tracks {
		m.tracks[t.ID] = t
		if t.ID > m.nextID {
			m.nextID = t.ID
		}
	}
	return m
}

func (m *memTracks) sorted(keep func(*model.Track) bool) []*model.Track {
	out := make([]*model.Track, 0)
	for _, t := range m.tracks {
		if keep(t) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (m *memTracks) Create(ctx context.Context, track *model.Track) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	track.ID = m.nextID
	track.IsEncrypted = track.AccessRule.Gated()
	cp := *track
	m.tracks[track.ID] = &cp
	return track.ID, nil
}

func (m *memTracks) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	t, ok := m.tracks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTracks) GetRecent(ctx context.Context, limit int, excludeFID int64) ([]*model.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	return m.sorted(func(t *model.Track) bool { return t.UploaderFID != excludeFID }), nil
}

func (m *memTracks) GetByUploader(ctx context.Context, fid int64) ([]*model.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(t *model.Track) bool { return t.UploaderFID == fid }), nil
}

func (m *memTracks) GetPopular(ctx context.Context, limit int, excludeFID int64) ([]*model.Track, error) {
	return m.GetRecent(ctx, limit, excludeFID)
}

func (m *memTracks) GetByGenre(ctx context.Context, genre string, limit int) ([]*model.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(t *model.Track) bool { return t.Genre == genre }), nil
}

func (m *memTracks) Search(ctx context.Context, term string, limit int) ([]*model.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(func(t *model.Track) bool { return t.MatchesTerm(term) }), nil
}

func (m *memTracks) IncrementPlayCount(ctx context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tracks[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	t.PlayCount++
	return t.PlayCount, nil
}

func (m *memTracks) owned(id, fid int64) (*model.Track, error) {
	t, ok := m.tracks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if t.UploaderFID != fid {
		return nil, repository.ErrForbidden
	}
	return t, nil
}

func (m *memTracks) Update(ctx context.Context, id, uploaderFID int64, patch model.TrackPatch) (*model.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.owned(id, uploaderFID)
	if err != nil {
		return nil, err
	}
	if patch.Title != "" {
		t.Title = patch.Title
	}
	if patch.Genre != "" {
		t.Genre = patch.Genre
	}
	cp := *t
	return &cp, nil
}

func (m *memTracks) Delete(ctx context.Context, id, uploaderFID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.owned(id, uploaderFID); err != nil {
		return err
	}
	delete(m.tracks, id)
	return nil
}

type memUsers struct {
	mu    sync.Mutex
	users map[int64]*model.User
}

func newMemUsers() *memUsers { return &memUsers{users: map[int64]*model.User{}} }

func (m *memUsers) GetByFID(ctx context.Context, fid int64) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[fid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) GetByWallet(ctx context.Context, wallet string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.WalletAddress == wallet {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memUsers) CreateOrUpdate(ctx context.Context, fid int64, wallet string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &model.User{FID: fid, WalletAddress: wallet, LastActive: time.Now()}
	m.users[fid] = u
	return u, nil
}

func (m *memUsers) UpdateLastActive(ctx context.Context, fid int64) error { return nil }

func (m *memUsers) List(ctx context.Context, limit int) ([]*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memUsers) Delete(ctx context.Context, fid int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[fid]; !ok {
		return repository.ErrNotFound
	}
	delete(m.users, fid)
	return nil
}

type stubSocial struct {
	users map[int64]*neynar.User
}

func (s stubSocial) GetUserByFID(ctx context.Context, fid int64) (*neynar.User, error) {
	if u, ok := s.users[fid]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("%w: fid %d", neynar.ErrUserNotFound, fid)
}

func (s stubSocial) GetUserByUsername(ctx context.Context, username string) (*neynar.User, error) {
	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", neynar.ErrUserNotFound, username)
}

func (s stubSocial) GetUserCasts(ctx context.Context, fid int64, limit int, cursor string) (*neynar.Page[neynar.Cast], error) {
	return &neynar.Page[neynar.Cast]{Result: []neynar.Cast{}, Next: "c2"}, nil
}

func (s stubSocial) GetFollowers(ctx context.Context, fid int64, limit int, cursor string) (*neynar.Page[neynar.Follow], error) {
	return &neynar.Page[neynar.Follow]{Result: []neynar.Follow{}}, nil
}

func (s stubSocial) GetFollowing(ctx context.Context, fid int64, limit int, cursor string) (*neynar.Page[neynar.Follow], error) {
	return nil, &neynar.APIError{Status: 500, Message: "upstream"}
}

func (s stubSocial) HealthCheck(ctx context.Context) bool { return true }

type stubUploads struct {
	mu   sync.Mutex
	reqs []upload.Request
	err  error
}

func (s *stubUploads) Upload(ctx context.Context, req upload.Request) (*model.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &model.Track{ID: 99, Title: req.Title, UploaderFID: req.UploaderFID, AccessRule: req.AccessRule}, nil
}

type playRecord struct {
	trackID, listener int64
}

type stubPlays struct {
	mu       sync.Mutex
	plays    []playRecord
	listened map[int64]float64
}

func (s *stubPlays) RecordPlay(ctx context.Context, track *model.Track, listenerFID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, playRecord{track.ID, listenerFID})
	return nil
}

func (s *stubPlays) RecordListen(ctx context.Context, track *model.Track, listenerFID int64, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listened == nil {
		s.listened = make(map[int64]float64)
	}
	s.listened[track.ID] += seconds
	return nil
}

func (s *stubPlays) listenedFor(id int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listened[id]
}

func (s *stubPlays) recorded() []playRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]playRecord(nil), s.plays...)
}

type stubStats map[int64][]*model.PlayEvent

func (s stubStats) ForTrack(ctx context.Context, trackID int64, days int) ([]*model.PlayEvent, error) {
	return s[trackID], nil
}

// stubNames maps lower-case wallets to ENS names; a missing entry fails.
type stubNames map[string]string

func (s stubNames) LookupAddress(ctx context.Context, address string) (string, error) {
	name, ok := s[strings.ToLower(address)]
	if !ok {
		return "", errors.New("rpc unavailable")
	}
	return name, nil
}

type stubGateway struct{}

func (stubGateway) URL(cid string) string { return "https://gw/ipfs/" + cid }

func (stubGateway) Fetch(ctx context.Context, cid string) ([]byte, error) {
	return []byte("cipher:" + cid), nil
}

type stubDecrypter struct{}

func (stubDecrypter) Decrypt(ctx context.Context, ciphertext []byte, condition *taco.Condition, signer *taco.Signer) ([]byte, error) {
	return append([]byte("plain:"), ciphertext...), nil
}

type testEnv struct {
	h       *APIHandler
	tracks  *memTracks
	users   *memUsers
	uploads *stubUploads
	plays   *stubPlays
}

func newTestEnv(tracks ...*model.Track) *testEnv {
	env := &testEnv{
		tracks:  newMemTracks(tracks...),
		users:   newMemUsers(),
		uploads: &stubUploads{},
		plays:   &stubPlays{},
	}
	social := stubSocial{users: map[int64]*neynar.User{
		42: {FID: 42, Username: "alice", Verifications: []string{aliceWallet}},
	}}
	env.h = NewAPIHandler(Deps{
		Tracks:    env.tracks,
		Users:     env.users,
		Auth:      auth.NewService(social, env.users, auth.NewTokenIssuer("test-secret", time.Hour)),
		Social:    social,
		Uploads:   env.uploads,
		Plays:     env.plays,
		Blobs:     playback.NewBlobStore("http://localhost:8080"),
		Gateway:   stubGateway{},
		Decrypter: stubDecrypter{},
		Elements:  playback.NewClockFactory(playback.ClockConfig{Tick: 5 * time.Millisecond}),
		ChainID:   80002,
	})
	return env
}

func (e *testEnv) token(fid int64, username string) string {
	tok, err := e.h.Auth.Tokens().GenerateToken(fid, username, aliceWallet)
	if err != nil {
		panic(err)
	}
	return tok
}
