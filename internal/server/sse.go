package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/danshapiro/uigen/internal/agent"
)

// Broadcaster fans out the events of one turn to every attached SSE client.
// Late subscribers get the full history first. Safe for concurrent use.
type Broadcaster struct {
	mu      sync.Mutex
	history []agent.Event
	clients map[uint64]chan agent.Event
	nextID  uint64
	closed  bool
	doneCh  chan struct{} // closed by Close only, never by a slow-client drop
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uint64]chan agent.Event),
		doneCh:  make(chan struct{}),
	}
}

// Send has the agent.EventSink signature. It never blocks: a client whose
// buffer is full is dropped.
func (b *Broadcaster) Send(ev agent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns the event channel, a channel closed when the turn is
// over, and an unsubscribe func.
func (b *Broadcaster) Subscribe() (<-chan agent.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Sized for the whole history plus headroom so replay never blocks
	// under the lock.
	ch := make(chan agent.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++

	for _, ev := range b.history {
		ch <- ev
	}

	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close marks the turn as over and closes every client channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

func (b *Broadcaster) History() []agent.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]agent.Event, len(b.history))
	copy(out, b.history)
	return out
}

// WriteSSE streams a turn's events as Server-Sent Events, one named event
// per agent event, followed by "event: done" once the turn is over.
func WriteSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, doneCh, unsub := b.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				select {
				case <-doneCh:
					fmt.Fprintf(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
					// Dropped for being slow.
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}
