package publish

import (
	"encoding/json"
	"net/http"
	"sync"

	"flowengine/internal/model"

	"go.uber.org/zap"
)

// Broadcaster fans ProcessedSignal events out to SSE clients, adapted
// from the teacher's realtime.Broker: a register/unregister/broadcast
// channel loop with non-blocking per-client sends so one slow
// dashboard tab cannot stall signal publication.
type Broadcaster struct {
	log *zap.Logger

	mu      sync.RWMutex
	clients map[chan []byte]bool

	register   chan chan []byte
	unregister chan chan []byte
	broadcast  chan []byte
}

// NewBroadcaster constructs a Broadcaster. Run must be started in its
// own goroutine before clients connect.
func NewBroadcaster(log *zap.Logger) *Broadcaster {
	return &Broadcaster{
		log:        log,
		clients:    make(map[chan []byte]bool),
		register:   make(chan chan []byte),
		unregister: make(chan chan []byte),
		broadcast:  make(chan []byte, 1000),
	}
}

// Run drives the broker loop until done is closed.
func (b *Broadcaster) Run(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client)
			}
			b.mu.Unlock()
		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client <- msg:
				default:
				}
			}
			b.mu.RUnlock()
		}
	}
}

// ServeHTTP upgrades the connection to an SSE stream of published
// signals, one JSON object per event per spec.md §6.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientChan := make(chan []byte, 16)
	b.register <- clientChan
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			b.unregister <- clientChan
			return
		case msg, ok := <-clientChan:
			if !ok {
				return
			}
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// Publish implements signalmanager.PublishPort.
func (b *Broadcaster) Publish(p model.ProcessedSignal) {
	payload, err := json.Marshal(toWire(p))
	if err != nil {
		b.log.Warn("publish: marshal signal for broadcast", zap.Error(err))
		return
	}
	select {
	case b.broadcast <- payload:
	default:
		b.log.Warn("publish: broadcast buffer full, dropping signal", zap.String("correlationId", p.CorrelationID))
	}
}
