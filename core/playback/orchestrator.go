package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"soundproof/core/taco"
	"soundproof/logger"
	"soundproof/model"
	"soundproof/repository"
)

// State of a playback session.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Gateway resolves and fetches content by CID.
type Gateway interface {
	URL(cid string) string
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// Decrypter is the threshold decryption capability.
type Decrypter interface {
	Decrypt(ctx context.Context, ciphertext []byte, condition *taco.Condition, signer *taco.Signer) ([]byte, error)
}

// TrackLookup finds a track by id.
type TrackLookup interface {
	GetByID(ctx context.Context, id int64) (*model.Track, error)
}

// PlayRecorder counts a successful playback start and, once the listener
// moves on, how many seconds of the track were actually played.
type PlayRecorder interface {
	RecordPlay(ctx context.Context, track *model.Track, listenerFID int64) error
	RecordListen(ctx context.Context, track *model.Track, listenerFID int64, seconds float64) error
}

// Options for a single PlayTrack call.
type Options struct {
	// CID overrides the track's own content id.
	CID    string
	Signer *taco.Signer
}

// Session is the observable playback state.
type Session struct {
	CurrentTrack *model.Track `json:"currentTrack"`
	State        State        `json:"state"`
	IsPlaying    bool         `json:"isPlaying"`
	CurrentTime  float64      `json:"currentTime"`
	Duration     float64      `json:"duration"`
	Volume       float64      `json:"volume"`
	IsLoading    bool         `json:"isLoading"`
}

// Config wires an Orchestrator.
type Config struct {
	Gateway   Gateway
	Decrypter Decrypter
	Tracks    TrackLookup
	Plays     PlayRecorder
	Blobs     *BlobStore
	Elements  ElementFactory

	ChainID     int
	ListenerFID int64
	// LoadTimeout bounds the fetch and decrypt of one load; 0 means none.
	LoadTimeout time.Duration

	OnState  func(Session)
	OnNotify func(Notification)
}

// Orchestrator drives one listener's playback: it turns a track selection
// into a playable source and owns the single AudioPlayer.
type Orchestrator struct {
	cfg    Config
	player *AudioPlayer

	mu           sync.Mutex
	currentTrack *model.Track
	state        State
	loadSeq      uint64
	cancelLoad   context.CancelFunc
	blobID       string
	closed       bool

	bg sync.WaitGroup
}

// NewOrchestrator creates an idle session.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Blobs == nil {
		cfg.Blobs = NewBlobStore("")
	}
	o := &Orchestrator{cfg: cfg, state: StateIdle}
	o.player = NewAudioPlayer(cfg.Elements, o.onPlayerEvent)
	return o
}

// Snapshot returns the current session state.
func (o *Orchestrator) Snapshot() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Session {
	ps := o.player.State()
	return Session{
		CurrentTrack: o.currentTrack,
		State:        o.state,
		IsPlaying:    ps.IsPlaying,
		CurrentTime:  ps.CurrentTime,
		Duration:     ps.Duration,
		Volume:       ps.Volume,
		IsLoading:    o.state == StateLoading || ps.IsLoading,
	}
}

func (o *Orchestrator) emitState() {
	if o.cfg.OnState == nil {
		return
	}
	o.cfg.OnState(o.Snapshot())
}

func (o *Orchestrator) notify(n Notification) {
	if o.cfg.OnNotify != nil {
		o.cfg.OnNotify(n)
	}
}

func (o *Orchestrator) onPlayerEvent(ev PlayerEvent, err error) {
	switch ev {
	case EventEnded:
		o.mu.Lock()
		if o.state == StatePlaying || o.state == StatePaused {
			o.state = StateIdle
		}
		o.flushListenLocked()
		o.mu.Unlock()
	case EventError:
		o.mu.Lock()
		if o.state == StatePlaying {
			o.state = StatePaused
		}
		o.mu.Unlock()
	}
	o.emitState()
}

// PlayTrackByID looks the track up before playing it.
func (o *Orchestrator) PlayTrackByID(ctx context.Context, id int64, opts Options) error {
	if o.cfg.Tracks == nil {
		return o.fail(fmt.Errorf("%w: no track store", ErrNotFound))
	}
	track, err := o.cfg.Tracks.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return o.fail(fmt.Errorf("%w: id %d", ErrNotFound, id))
		}
		return o.fail(fmt.Errorf("%w: track lookup: %v", ErrNetwork, err))
	}
	return o.PlayTrack(ctx, track, opts)
}

// fail reports an error that happened before any state change.
func (o *Orchestrator) fail(err error) error {
	logger.Warn("playback request rejected", logger.ErrorField(err))
	o.notify(notificationFor(err))
	return err
}

// PlayTrack loads and starts track. A newer PlayTrack supersedes this one:
// its result is discarded and ErrSuperseded returned.
func (o *Orchestrator) PlayTrack(ctx context.Context, track *model.Track, opts Options) error {
	if track == nil {
		return o.fail(fmt.Errorf("%w: nil track", ErrNotFound))
	}
	if track.IsEncrypted && opts.Signer == nil {
		return o.fail(fmt.Errorf("%w: track %d is encrypted", ErrAuthRequired, track.ID))
	}

	var (
		loadCtx context.Context
		cancel  context.CancelFunc
	)
	if o.cfg.LoadTimeout > 0 {
		loadCtx, cancel = context.WithTimeout(ctx, o.cfg.LoadTimeout)
	} else {
		loadCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.cancelLoad != nil {
		o.cancelLoad()
	}
	o.player.Pause()
	o.flushListenLocked()
	o.loadSeq++
	seq := o.loadSeq
	o.cancelLoad = cancel
	o.currentTrack = track
	o.state = StateLoading
	o.mu.Unlock()
	o.emitState()

	logger.Info("loading track",
		logger.Int64("trackId", track.ID),
		logger.Bool("encrypted", track.IsEncrypted),
		logger.Uint64("seq", seq))

	src, blobID, err := o.resolve(loadCtx, track, opts)
	if err != nil {
		return o.loadFailed(seq, track, err)
	}

	o.mu.Lock()
	if seq != o.loadSeq {
		o.mu.Unlock()
		o.cfg.Blobs.Revoke(blobID)
		logger.Debug("discarding superseded load", logger.Int64("trackId", track.ID), logger.Uint64("seq", seq))
		return ErrSuperseded
	}
	prevBlob := o.blobID
	o.blobID = blobID
	o.cancelLoad = nil
	o.player.LoadTrack(src)
	o.mu.Unlock()
	o.cfg.Blobs.Revoke(prevBlob)
	o.emitState()

	playErr := o.player.Play(ctx)

	o.mu.Lock()
	if seq != o.loadSeq {
		o.mu.Unlock()
		return ErrSuperseded
	}
	if playErr != nil {
		if errors.Is(playErr, ErrSuperseded) {
			o.mu.Unlock()
			return ErrSuperseded
		}
		o.state = StatePaused
		o.mu.Unlock()
		o.emitState()
		return playErr
	}
	o.state = StatePlaying
	o.mu.Unlock()
	o.emitState()

	o.recordPlay(track)
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, track *model.Track, opts Options) (Source, string, error) {
	cid := track.PlaybackCID(opts.CID)
	if cid == "" {
		return Source{}, "", fmt.Errorf("%w: track %d has no content id", ErrNotFound, track.ID)
	}

	if !track.IsEncrypted {
		return Source{URL: o.cfg.Gateway.URL(cid), Duration: track.Duration}, "", nil
	}

	ciphertext, err := o.cfg.Gateway.Fetch(ctx, cid)
	if err != nil {
		return Source{}, "", fmt.Errorf("%w: fetch %s: %v", ErrNetwork, cid, err)
	}

	if o.cfg.Decrypter == nil {
		return Source{}, "", fmt.Errorf("%w: no decryption service configured", ErrDecryption)
	}
	condition, err := taco.ConditionFor(track.AccessRule, o.cfg.ChainID)
	if err != nil {
		return Source{}, "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	plaintext, err := o.cfg.Decrypter.Decrypt(ctx, ciphertext, condition, opts.Signer)
	if err != nil {
		return Source{}, "", fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	id := o.cfg.Blobs.Put(plaintext, "audio/mpeg")
	return Source{URL: o.cfg.Blobs.URL(id), Duration: track.Duration}, id, nil
}

// loadFailed returns the session to Idle unless a newer load already owns it.
func (o *Orchestrator) loadFailed(seq uint64, track *model.Track, err error) error {
	o.mu.Lock()
	if seq != o.loadSeq {
		o.mu.Unlock()
		logger.Debug("superseded load failed", logger.Int64("trackId", track.ID), logger.ErrorField(err))
		return ErrSuperseded
	}
	prevBlob := o.blobID
	o.blobID = ""
	o.cancelLoad = nil
	o.currentTrack = nil
	o.state = StateIdle
	o.player.Cleanup()
	o.mu.Unlock()
	o.cfg.Blobs.Revoke(prevBlob)

	logger.Error("failed to load track", logger.Int64("trackId", track.ID), logger.ErrorField(err))
	o.notify(notificationFor(err))
	o.emitState()
	return err
}

func (o *Orchestrator) recordPlay(track *model.Track) {
	if o.cfg.Plays == nil {
		return
	}
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.cfg.Plays.RecordPlay(ctx, track, o.cfg.ListenerFID); err != nil {
			logger.Warn("failed to record play", logger.Int64("trackId", track.ID), logger.ErrorField(err))
		}
	}()
}

// flushListenLocked hands the seconds played of the current track to the
// recorder in the background.
func (o *Orchestrator) flushListenLocked() {
	seconds := o.player.TakeListened()
	if seconds <= 0 || o.currentTrack == nil || o.cfg.Plays == nil {
		return
	}
	track := o.currentTrack
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.cfg.Plays.RecordListen(ctx, track, o.cfg.ListenerFID, seconds); err != nil {
			logger.Warn("failed to record listened time", logger.Int64("trackId", track.ID), logger.ErrorField(err))
		}
	}()
}

// PauseTrack is a no-op when nothing is loaded.
func (o *Orchestrator) PauseTrack() {
	o.mu.Lock()
	if o.state == StateLoading || !o.player.Loaded() {
		o.mu.Unlock()
		return
	}
	o.player.Pause()
	if o.state == StatePlaying {
		o.state = StatePaused
	}
	o.mu.Unlock()
	o.emitState()
}

// ResumeTrack is a no-op when nothing is loaded. A play failure leaves the
// session paused.
func (o *Orchestrator) ResumeTrack(ctx context.Context) error {
	o.mu.Lock()
	if o.state == StateLoading || !o.player.Loaded() {
		o.mu.Unlock()
		return nil
	}
	seq := o.loadSeq
	o.mu.Unlock()

	err := o.player.Play(ctx)

	o.mu.Lock()
	if seq != o.loadSeq || errors.Is(err, ErrSuperseded) {
		o.mu.Unlock()
		return nil
	}
	if err != nil {
		o.state = StatePaused
	} else {
		o.state = StatePlaying
	}
	o.mu.Unlock()
	o.emitState()
	return err
}

// SeekTo clamps t to [0, duration]; no-op when nothing is loaded.
func (o *Orchestrator) SeekTo(t float64) {
	o.mu.Lock()
	if o.state == StateLoading || !o.player.Loaded() {
		o.mu.Unlock()
		return
	}
	o.player.Seek(t)
	o.mu.Unlock()
	o.emitState()
}

// SetVolume clamps v to [0, 1] and returns the applied value.
func (o *Orchestrator) SetVolume(v float64) float64 {
	applied := o.player.SetVolume(v)
	o.emitState()
	return applied
}

// Close cancels any in-flight load, releases the engine and revokes the blob.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.cancelLoad != nil {
		o.cancelLoad()
		o.cancelLoad = nil
	}
	o.loadSeq++
	o.closed = true
	o.player.Pause()
	o.flushListenLocked()
	blobID := o.blobID
	o.blobID = ""
	o.currentTrack = nil
	o.state = StateIdle
	o.player.Cleanup()
	o.mu.Unlock()
	o.cfg.Blobs.Revoke(blobID)
}

// Wait blocks until background play recording has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}
