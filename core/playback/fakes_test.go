package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"soundproof/core/taco"
	"soundproof/model"
	"soundproof/repository"
)

type fakeElement struct {
	mu        sync.Mutex
	src       Source
	events    ElementEvents
	playErr   error
	playing   bool
	volume    float64
	position  float64
	detached  bool
	playCalls int
}

func (e *fakeElement) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playCalls++
	if e.detached {
		return errDetached
	}
	if e.playErr != nil {
		return e.playErr
	}
	e.playing = true
	return nil
}

func (e *fakeElement) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
}

func (e *fakeElement) Seek(t float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = t
}

func (e *fakeElement) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = v
}

func (e *fakeElement) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detached = true
	e.playing = false
}

func (e *fakeElement) snapshot() fakeElement {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fakeElement{src: e.src, playing: e.playing, volume: e.volume, position: e.position, detached: e.detached, playCalls: e.playCalls}
}

type fakeEngine struct {
	mu       sync.Mutex
	elements []*fakeElement
	playErr  error
}

func (f *fakeEngine) factory(src Source, events ElementEvents) Element {
	f.mu.Lock()
	defer f.mu.Unlock()
	el := &fakeElement{src: src, events: events, playErr: f.playErr}
	f.elements = append(f.elements, el)
	return el
}

func (f *fakeEngine) all() []*fakeElement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeElement(nil), f.elements...)
}

func (f *fakeEngine) last() *fakeElement {
	els := f.all()
	if len(els) == 0 {
		return nil
	}
	return els[len(els)-1]
}

func (f *fakeEngine) live() int {
	n := 0
	for _, el := range f.all() {
		if !el.snapshot().detached {
			n++
		}
	}
	return n
}

type fakeGateway struct {
	mu      sync.Mutex
	data    map[string][]byte
	err     error
	fetches int
	// gates block Fetch for a cid until closed; started is signalled first.
	gates   map[string]chan struct{}
	started chan string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{data: map[string][]byte{}, gates: map[string]chan struct{}{}, started: make(chan string, 8)}
}

func (g *fakeGateway) URL(cid string) string { return "https://gw/ipfs/" + cid }

func (g *fakeGateway) Fetch(ctx context.Context, cid string) ([]byte, error) {
	g.mu.Lock()
	g.fetches++
	gate := g.gates[cid]
	g.mu.Unlock()

	if gate != nil {
		g.started <- cid
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	d, ok := g.data[cid]
	if !ok {
		return nil, fmt.Errorf("gateway returned 404 for %s", cid)
	}
	return d, nil
}

func (g *fakeGateway) fetchCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.fetches
}

type fakeDecrypter struct {
	mu         sync.Mutex
	err        error
	conditions []*taco.Condition
}

func (d *fakeDecrypter) Decrypt(ctx context.Context, ciphertext []byte, condition *taco.Condition, signer *taco.Signer) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conditions = append(d.conditions, condition)
	if d.err != nil {
		return nil, d.err
	}
	return append([]byte("plain:"), ciphertext...), nil
}

type fakeTracks map[int64]*model.Track

func (f fakeTracks) GetByID(ctx context.Context, id int64) (*model.Track, error) {
	if t, ok := f[id]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

type listenRecord struct {
	trackID int64
	seconds float64
}

type fakeRecorder struct {
	mu      sync.Mutex
	plays   []int64
	listens []listenRecord
	err     error
}

func (r *fakeRecorder) RecordPlay(ctx context.Context, track *model.Track, listenerFID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plays = append(r.plays, track.ID)
	return r.err
}

func (r *fakeRecorder) RecordListen(ctx context.Context, track *model.Track, listenerFID int64, seconds float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listens = append(r.listens, listenRecord{track.ID, seconds})
	return r.err
}

func (r *fakeRecorder) listened() []listenRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]listenRecord(nil), r.listens...)
}

func (r *fakeRecorder) recorded() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.plays...)
}

// observer collects emitted states and notifications.
type observer struct {
	mu            sync.Mutex
	states        []Session
	notifications []Notification
}

func (o *observer) onState(s Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *observer) onNotify(n Notification) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifications = append(o.notifications, n)
}

func (o *observer) stateSeq() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []State
	for _, s := range o.states {
		if len(out) == 0 || out[len(out)-1] != s.State {
			out = append(out, s.State)
		}
	}
	return out
}

func (o *observer) notes() []Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Notification(nil), o.notifications...)
}

func (o *observer) stateCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.states)
}

type harness struct {
	orch     *Orchestrator
	engine   *fakeEngine
	gateway  *fakeGateway
	decrypt  *fakeDecrypter
	recorder *fakeRecorder
	blobs    *BlobStore
	obs      *observer
}

func newHarness(tracks ...*model.Track) *harness {
	h := &harness{
		engine:   &fakeEngine{},
		gateway:  newFakeGateway(),
		decrypt:  &fakeDecrypter{},
		recorder: &fakeRecorder{},
		blobs:    NewBlobStore("http://localhost:8080"),
		obs:      &observer{},
	}
	lookup := fakeTracks{}
	for _, t := range tracks {
		lookup[t.ID] = t
	}
	h.orch = NewOrchestrator(Config{
		Gateway:     h.gateway,
		Decrypter:   h.decrypt,
		Tracks:      lookup,
		Plays:       h.recorder,
		Blobs:       h.blobs,
		Elements:    h.engine.factory,
		ChainID:     80002,
		ListenerFID: 7,
		OnState:     h.obs.onState,
		OnNotify:    h.obs.onNotify,
	})
	return h
}

func publicTrack(id int64, cid string) *model.Track {
	return &model.Track{ID: id, Title: fmt.Sprintf("track %d", id), CID: cid, AccessRule: model.AccessRule{Type: model.AccessPublic}}
}

func gatedTrack(id int64, cid string) *model.Track {
	return &model.Track{
		ID:          id,
		Title:       fmt.Sprintf("gated %d", id),
		CID:         cid,
		IsEncrypted: true,
		AccessRule: model.AccessRule{
			Type:            model.AccessERC20,
			ContractAddress: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
			MinBalance:      "5",
		},
	}
}

func testSigner() *taco.Signer {
	return &taco.Signer{
		Address:     "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359",
		SIWEMessage: "sign in",
		Signature:   "0xsig",
	}
}

var errAutoplay = errors.New("play() was blocked")
