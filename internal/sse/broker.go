// Package sse implements a Server-Sent Events broker for live post, media
// and storage updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types broadcast to clients.
const (
	PostSaved    = "post.saved"
	PostDeleted  = "post.deleted"
	MediaSaved   = "media.saved"
	MediaDeleted = "media.deleted"
	FileCreated  = "file.created"
	FileRemoved  = "file.removed"
	// StorageChanged is a throttled hint that media listings are stale.
	StorageChanged = "storage.changed"
)

const (
	// historySize is how many past events a reconnecting client can replay.
	historySize = 256
	// clientBuffer is the per-client queue; a full queue drops messages.
	clientBuffer = 64
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type message struct {
	id  uint64
	raw []byte
}

type subscription struct {
	ch     chan []byte
	lastID uint64 // replay events after this id; 0 means none
}

type fileEvent struct {
	kind string
	path string
}

// Broker fans events out to SSE clients.
//
// A single loop goroutine owns the client set, the id sequence, the replay
// history and the storage throttle; every public method talks to it over a
// channel.
type Broker struct {
	storageMin time.Duration
	heartbeat  time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	fileEventCh   chan fileEvent
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithHeartbeat sets the interval of keep-alive comments sent to idle
// clients. Zero disables them.
func WithHeartbeat(d time.Duration) BrokerOption {
	return func(b *Broker) { b.heartbeat = d }
}

// NewBroker creates a new SSE broker. storageThrottle is the minimum gap
// between two storage.changed events.
func NewBroker(storageThrottle time.Duration, opts ...BrokerOption) *Broker {
	if storageThrottle <= 0 {
		storageThrottle = 2 * time.Second
	}

	b := &Broker{
		storageMin:    storageThrottle,
		heartbeat:     15 * time.Second,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		fileEventCh:   make(chan fileEvent, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	history := make([]message, 0, historySize)
	var seq uint64
	var lastStorage time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		msg := message{
			id:  seq,
			raw: []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)),
		}
		if len(history) == historySize {
			copy(history, history[1:])
			history = history[:historySize-1]
		}
		history = append(history, msg)

		for ch := range clients {
			select {
			case ch <- msg.raw:
			default:
				// Slow client; it can catch up through Last-Event-ID.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = struct{}{}
			if sub.lastID == 0 {
				continue
			}
			for _, m := range history {
				if m.id <= sub.lastID {
					continue
				}
				select {
				case sub.ch <- m.raw:
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

		case fe := <-b.fileEventCh:
			data := map[string]string{"path": fe.path}
			switch fe.kind {
			case "created":
				broadcast(Event{Type: FileCreated, Data: data})
			case "removed":
				broadcast(Event{Type: FileRemoved, Data: data})
			default:
				continue
			}

			if now := time.Now(); now.Sub(lastStorage) >= b.storageMin {
				lastStorage = now
				broadcast(Event{Type: StorageChanged, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. Events with an id above lastID that are still in
// the replay history are queued first.
func (b *Broker) Subscribe(lastID uint64) chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, lastID: lastID}:
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

// PublishFileEvent reports a file created or removed under the storage root
// (kind "created" or "removed"), followed by a throttled storage.changed.
func (b *Broker) PublishFileEvent(kind, path string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.fileEventCh <- fileEvent{kind: kind, path: path}:
	case <-b.stopped:
	}
}

// ServeHTTP streams events to one client. A Last-Event-ID header resumes
// after that id.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastID, _ := strconv.ParseUint(r.Header.Get("Last-Event-ID"), 10, 64)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(lastID)
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
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
