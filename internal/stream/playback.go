package stream

import (
	"sync"

	"github.com/dj-oyu/detection-dashboard/internal/store"
)

// PlaybackState is whether the displayed video is advancing.
type PlaybackState string

const (
	Playing PlaybackState = "playing"
	Paused  PlaybackState = "paused"
)

// Playback is the display-side state machine. Pause freezes the relayed
// video only; backend inference and polling are unaffected. The mapping
// from the backend lifecycle is: a started stream plays, a stopped stream
// pauses.
type Playback struct {
	store *store.Store

	mu    sync.Mutex
	state PlaybackState
}

// NewPlayback starts in Playing.
func NewPlayback(st *store.Store) *Playback {
	return &Playback{store: st, state: Playing}
}

// State returns the playback state.
func (p *Playback) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Paused reports whether the display is frozen.
func (p *Playback) Paused() bool {
	return p.State() == Paused
}

// Pause freezes the display.
func (p *Playback) Pause() {
	p.set(Paused)
}

// Resume unfreezes the display.
func (p *Playback) Resume() {
	p.set(Playing)
}

// Toggle flips the state and returns the new one.
func (p *Playback) Toggle() PlaybackState {
	p.mu.Lock()
	next := Playing
	if p.state == Playing {
		next = Paused
	}
	p.mu.Unlock()
	p.set(next)
	return next
}

func (p *Playback) set(s PlaybackState) {
	p.mu.Lock()
	changed := p.state != s
	p.state = s
	p.mu.Unlock()
	if changed {
		p.store.ApplyStream(store.StreamUpdate{Playback: string(s)})
	}
}

// startStream and stopStream apply the lifecycle mapping and return the
// resulting state for the controller's store update.
func (p *Playback) startStream() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Playing
	return p.state
}

func (p *Playback) stopStream() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = Paused
	return p.state
}
