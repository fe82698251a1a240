package dashboard

import (
	"sync"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/session"
)

// StateBroadcaster fans out view model revisions to SSE, WebSocket and
// data channel clients.
type StateBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	sess    *session.Session
	stop    chan struct{}
	stopped bool
	done    chan struct{}
}

// NewStateBroadcaster creates a broadcaster over the session's store.
func NewStateBroadcaster(sess *session.Session) *StateBroadcaster {
	return &StateBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		sess:    sess,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe adds a client. The channel is primed with the current state.
func (b *StateBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	ch := make(chan *SerializedEvent, 2)
	if ev := b.current(); ev != nil {
		ch <- ev
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.clients[id] = ch
	logger.Debug("StateBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(b.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (b *StateBroadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.clients[id]; ok {
		close(ch)
		delete(b.clients, id)
		logger.Debug("StateBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(b.clients))
	}
}

// Start begins forwarding store revisions.
func (b *StateBroadcaster) Start() {
	go b.run()
}

// Stop halts the broadcaster and closes every client channel.
func (b *StateBroadcaster) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	close(b.stop)
	b.stopped = true
	b.mu.Unlock()
	<-b.done

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

func (b *StateBroadcaster) run() {
	defer close(b.done)
	subID, revs := b.sess.Store.Subscribe()
	defer b.sess.Store.Unsubscribe(subID)

	var lastSent uint64
	for {
		select {
		case <-b.stop:
			return
		case rev, ok := <-revs:
			if !ok {
				return
			}
			if rev <= lastSent || b.clientCount() == 0 {
				continue
			}
			ev := b.current()
			if ev == nil {
				continue
			}
			lastSent = ev.Revision
			b.broadcast(ev)
		}
	}
}

func (b *StateBroadcaster) clientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *StateBroadcaster) current() *SerializedEvent {
	ev, err := serializeView(buildView(b.sess))
	if err != nil {
		logger.Error("StateBroadcaster", "Serialize state: %v", err)
		return nil
	}
	return ev
}

func (b *StateBroadcaster) broadcast(ev *SerializedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// replace the oldest queued revision so the newest is never lost
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
