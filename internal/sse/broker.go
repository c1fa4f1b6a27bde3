// Package sse implements a Server-Sent Events broker that pushes editor
// state (autosave status, rendered diagrams, vault changes) to clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeAutosaveStatus   = "autosave.status"
	TypeDiagramRendered  = "diagram.rendered"
	TypeNoteCreated      = "note.created"
	TypeNoteUpdated      = "note.updated"
	TypeNoteDeleted      = "note.deleted"
	TypeAssetChanged     = "asset.changed"
	TypeBacklinksChanged = "backlinks.changed"
)

const (
	defaultUpdateThrottle = time.Second
	defaultHeartbeat      = 15 * time.Second
	defaultReplay         = 128
	clientBuffer          = 64
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type vaultEvent struct {
	kind string
	path string
}

type subscribeReq struct {
	ch     chan []byte
	lastID uint64
}

type frame struct {
	id  uint64
	raw []byte
}

// Option configures a Broker.
type Option func(*Broker)

// WithUpdateThrottle limits note.updated events to one per path per interval.
// Autosave writes a note many times while the user types; the last update in
// a burst is always delivered.
func WithUpdateThrottle(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.updateMin = d
		}
	}
}

// WithHeartbeat sets the interval of keep-alive comments on open streams.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.heartbeat = d
		}
	}
}

// WithReplay sets how many recent events are kept for reconnecting clients.
func WithReplay(n int) Option {
	return func(b *Broker) {
		b.replay = max(n, 0)
	}
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients, replay ring and per-path update throttle). Public methods communicate
// with this loop through channels, so no mutexes are required.
type Broker struct {
	updateMin time.Duration
	heartbeat time.Duration
	replay    int

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	vaultCh       chan vaultEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker and starts its event loop.
func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		updateMin:     defaultUpdateThrottle,
		heartbeat:     defaultHeartbeat,
		replay:        defaultReplay,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		vaultCh:       make(chan vaultEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		nextID  uint64
		history []frame
	)
	lastUpdate := make(map[string]time.Time)
	pending := make(map[string]struct{})

	ticker := time.NewTicker(b.updateMin)
	defer ticker.Stop()

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		nextID++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", nextID, event.Type, payload))
		if b.replay > 0 {
			history = append(history, frame{id: nextID, raw: raw})
			if len(history) > b.replay {
				history = history[len(history)-b.replay:]
			}
		}

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	sendUpdate := func(path string, now time.Time) {
		delete(pending, path)
		lastUpdate[path] = now
		broadcast(Event{Type: TypeNoteUpdated, Data: map[string]string{"path": path}})
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = struct{}{}
			if req.lastID == 0 {
				continue
			}
			for _, f := range history {
				if f.id <= req.lastID {
					continue
				}
				select {
				case req.ch <- f.raw:
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case ev := <-b.vaultCh:
			data := map[string]string{"path": ev.path}
			now := time.Now()
			switch ev.kind {
			case "created":
				broadcast(Event{Type: TypeNoteCreated, Data: data})
			case "updated":
				if now.Sub(lastUpdate[ev.path]) >= b.updateMin {
					sendUpdate(ev.path, now)
				} else {
					pending[ev.path] = struct{}{}
				}
			case "deleted":
				delete(pending, ev.path)
				delete(lastUpdate, ev.path)
				broadcast(Event{Type: TypeNoteDeleted, Data: data})
			case "asset":
				broadcast(Event{Type: TypeAssetChanged, Data: data})
			}

		case now := <-ticker.C:
			for path := range pending {
				if now.Sub(lastUpdate[path]) >= b.updateMin {
					sendUpdate(path, now)
				}
			}
			for path, at := range lastUpdate {
				if _, waiting := pending[path]; !waiting && now.Sub(at) > 2*b.updateMin {
					delete(lastUpdate, path)
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. Events newer than
// lastID that are still in the replay ring are queued first; 0 skips replay.
func (b *Broker) Subscribe(lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{ch: ch, lastID: lastID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishVaultEvent publishes a watcher event. kind is one of "created",
// "updated", "deleted" or "asset"; anything else is dropped.
func (b *Broker) PublishVaultEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.vaultCh <- vaultEvent{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// lastEventID reads the resume point sent by a reconnecting EventSource.
func lastEventID(r *http.Request) uint64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("last_event_id")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(lastEventID(r))
	defer b.Unsubscribe(ch)

	ping := time.NewTicker(b.heartbeat)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
