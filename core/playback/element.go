package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"soundproof/core/audio"
)

// Source is what the audio engine is asked to load.
type Source struct {
	URL string
	// Duration in seconds when already known from track metadata; 0 means probe.
	Duration float64
}

// ElementEvents are the callbacks an Element fires. They are always invoked
// from the element's own goroutines, never from inside an Element method.
type ElementEvents struct {
	OnMetadata   func(duration float64)
	OnTimeUpdate func(t float64)
	OnEnded      func()
	OnError      func(err error)
}

// Element stands in for a native audio element.
type Element interface {
	// Play blocks until the source is playable (or ctx ends) and starts it.
	Play(ctx context.Context) error
	Pause()
	Seek(t float64)
	SetVolume(v float64)
	// Detach releases the source. An event already in flight may still
	// arrive; AudioPlayer drops it by generation.
	Detach()
}

// ElementFactory creates an element bound to src.
type ElementFactory func(src Source, events ElementEvents) Element

var errDetached = errors.New("source detached")

// ClockConfig tunes the server-side playhead.
type ClockConfig struct {
	Prober       audio.Prober
	Tick         time.Duration
	ProbeTimeout time.Duration
}

// NewClockFactory returns a factory for clockElements.
func NewClockFactory(cfg ClockConfig) ElementFactory {
	if cfg.Tick <= 0 {
		cfg.Tick = 250 * time.Millisecond
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	return func(src Source, events ElementEvents) Element {
		return newClockElement(src, events, cfg)
	}
}

// clockElement is a virtual playhead: the listener's browser renders the
// audio, the server tracks where it should be.
type clockElement struct {
	mu       sync.Mutex
	events   ElementEvents
	tick     time.Duration
	duration float64
	position float64
	volume   float64
	playing  bool
	detached bool
	loadErr  error

	ready       chan struct{}
	readyClosed bool
	cancel      context.CancelFunc
	stop        chan struct{}
}

func newClockElement(src Source, events ElementEvents, cfg ClockConfig) *clockElement {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProbeTimeout)
	e := &clockElement{
		events: events,
		tick:   cfg.Tick,
		volume: 1,
		ready:  make(chan struct{}),
		cancel: cancel,
	}
	go e.loadMetadata(ctx, src, cfg.Prober)
	return e
}

func (e *clockElement) loadMetadata(ctx context.Context, src Source, prober audio.Prober) {
	defer e.cancel()

	duration := src.Duration
	var err error
	if duration <= 0 {
		if prober == nil {
			err = fmt.Errorf("no duration for %s and no prober configured", src.URL)
		} else {
			duration, err = prober.ProbeDuration(ctx, src.URL)
		}
	}

	e.mu.Lock()
	if e.detached {
		e.mu.Unlock()
		return
	}
	if err != nil {
		e.loadErr = err
	} else {
		e.duration = duration
	}
	e.closeReadyLocked()
	e.mu.Unlock()

	if err != nil {
		if e.events.OnError != nil {
			e.events.OnError(err)
		}
		return
	}
	if e.events.OnMetadata != nil {
		e.events.OnMetadata(duration)
	}
}

func (e *clockElement) Play(ctx context.Context) error {
	select {
	case <-e.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return errDetached
	}
	if e.loadErr != nil {
		return e.loadErr
	}
	if e.playing {
		return nil
	}
	if e.position >= e.duration {
		e.position = 0
	}
	e.playing = true
	e.stop = make(chan struct{})
	go e.run(e.stop)
	return nil
}

func (e *clockElement) run(stop chan struct{}) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()
	last := time.Now()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			e.mu.Lock()
			if !e.playing || e.detached || e.stop != stop {
				e.mu.Unlock()
				return
			}
			e.position += now.Sub(last).Seconds()
			last = now
			ended := e.position >= e.duration
			if ended {
				e.position = e.duration
				e.playing = false
			}
			pos := e.position
			e.mu.Unlock()

			if e.events.OnTimeUpdate != nil {
				e.events.OnTimeUpdate(pos)
			}
			if ended {
				if e.events.OnEnded != nil {
					e.events.OnEnded()
				}
				return
			}
		}
	}
}

func (e *clockElement) closeReadyLocked() {
	if !e.readyClosed {
		e.readyClosed = true
		close(e.ready)
	}
}

func (e *clockElement) stopLocked() {
	e.playing = false
	if e.stop != nil {
		close(e.stop)
		e.stop = nil
	}
}

func (e *clockElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
}

func (e *clockElement) Seek(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = t
}

func (e *clockElement) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *clockElement) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detached {
		return
	}
	e.detached = true
	e.stopLocked()
	e.closeReadyLocked()
	e.cancel()
}
