package playback

import (
	"context"
	"math"
	"sync"

	"soundproof/logger"
)

// PlayerState is the observable state of the audio engine.
type PlayerState struct {
	IsPlaying   bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
	Volume      float64 `json:"volume"`
	IsLoading   bool    `json:"isLoading"`
}

// PlayerEvent tells the owner what changed asynchronously.
type PlayerEvent int

const (
	EventMetadata PlayerEvent = iota
	EventTimeUpdate
	EventEnded
	EventError
)

// AudioPlayer owns a single Element at a time. Events are tagged with the
// generation of the element that produced them; anything from a released
// element is dropped.
type AudioPlayer struct {
	mu      sync.Mutex
	factory ElementFactory
	el      Element
	gen     uint64
	state   PlayerState
	// seconds actually played on the current element; seeks do not count
	listened float64

	onEvent func(PlayerEvent, error)
}

// NewAudioPlayer creates a player. onEvent may be nil; it is called outside
// the player's lock.
func NewAudioPlayer(factory ElementFactory, onEvent func(PlayerEvent, error)) *AudioPlayer {
	return &AudioPlayer{
		factory: factory,
		state:   PlayerState{Volume: 1},
		onEvent: onEvent,
	}
}

// clamp maps NaN to lo.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// LoadTrack releases the previous element and attaches a new one to src.
func (p *AudioPlayer) LoadTrack(src Source) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.releaseLocked()
	p.gen++
	gen := p.gen

	p.state.CurrentTime = 0
	p.state.Duration = 0
	p.state.IsPlaying = false
	p.state.IsLoading = true
	p.listened = 0

	p.el = p.factory(src, ElementEvents{
		OnMetadata: func(d float64) {
			p.handle(gen, EventMetadata, nil, func() {
				p.state.Duration = d
				p.state.IsLoading = false
			})
		},
		OnTimeUpdate: func(t float64) {
			p.handle(gen, EventTimeUpdate, nil, func() {
				if delta := t - p.state.CurrentTime; delta > 0 {
					p.listened += delta
				}
				p.state.CurrentTime = t
			})
		},
		OnEnded: func() {
			p.handle(gen, EventEnded, nil, func() {
				p.state.IsPlaying = false
				p.state.CurrentTime = 0
			})
		},
		OnError: func(err error) {
			logger.Error("audio element error", logger.Uint64("generation", gen), logger.ErrorField(err))
			p.handle(gen, EventError, err, func() {
				p.state.IsLoading = false
				p.state.IsPlaying = false
			})
		},
	})
	p.el.SetVolume(p.state.Volume)
}

func (p *AudioPlayer) handle(gen uint64, ev PlayerEvent, err error, apply func()) {
	p.mu.Lock()
	if gen != p.gen || p.el == nil {
		p.mu.Unlock()
		return
	}
	apply()
	p.mu.Unlock()

	if p.onEvent != nil {
		p.onEvent(ev, err)
	}
}

func (p *AudioPlayer) releaseLocked() {
	if p.el == nil {
		return
	}
	p.el.Pause()
	p.el.Detach()
	p.el = nil
}

// Play starts the current element. A failure is logged and leaves
// IsPlaying false. It returns ErrSuperseded when a newer LoadTrack or a
// Cleanup happened while waiting.
func (p *AudioPlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	el, gen := p.el, p.gen
	p.mu.Unlock()
	if el == nil {
		return nil
	}

	err := el.Play(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if gen != p.gen {
		return ErrSuperseded
	}
	if err != nil {
		logger.Warn("audio play failed", logger.ErrorField(err))
		p.state.IsPlaying = false
		return err
	}
	p.state.IsPlaying = true
	p.state.IsLoading = false
	return nil
}

// Pause 暂停
func (p *AudioPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.el == nil {
		return
	}
	p.el.Pause()
	p.state.IsPlaying = false
}

// Seek clamps t to [0, duration].
func (p *AudioPlayer) Seek(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.el == nil {
		return
	}
	t = clamp(t, 0, p.state.Duration)
	p.el.Seek(t)
	p.state.CurrentTime = t
}

// SetVolume clamps v to [0, 1]; it is kept for the next element too.
func (p *AudioPlayer) SetVolume(v float64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	v = clamp(v, 0, 1)
	p.state.Volume = v
	if p.el != nil {
		p.el.SetVolume(v)
	}
	return v
}

// Cleanup pauses and detaches unconditionally. Safe to call repeatedly.
func (p *AudioPlayer) Cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.releaseLocked()
	p.gen++
	p.state.IsPlaying = false
	p.state.IsLoading = false
	p.state.CurrentTime = 0
	p.state.Duration = 0
	p.listened = 0
}

// TakeListened returns the seconds played since the last call and resets
// the tally.
func (p *AudioPlayer) TakeListened() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.listened
	p.listened = 0
	return v
}

// Loaded reports whether an element is attached.
func (p *AudioPlayer) Loaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.el != nil
}

// State returns a snapshot.
func (p *AudioPlayer) State() PlayerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
