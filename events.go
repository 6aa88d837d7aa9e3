package main

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// uiMessage is a status event for the presentation layer. Each concrete type
// marshals with a "type" tag.
type uiMessage interface {
	messageType() string
}

type receivingMessage struct {
	ChannelIndex int    `json:"channel_index"`
	ChannelName  string `json:"channel_name"`
}

type processingMessage struct {
	ChannelIndex int `json:"channel_index"`
}

type completeMessage struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID uuid.UUID `json:"session_id"`
	Text      *string   `json:"text,omitempty"`
}

func (receivingMessage) messageType() string  { return "Receiving" }
func (processingMessage) messageType() string { return "Processing" }
func (completeMessage) messageType() string   { return "Complete" }

func (m receivingMessage) MarshalJSON() ([]byte, error) {
	type fields receivingMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{m.messageType(), fields(m)})
}

func (m processingMessage) MarshalJSON() ([]byte, error) {
	type fields processingMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{m.messageType(), fields(m)})
}

func (m completeMessage) MarshalJSON() ([]byte, error) {
	type fields completeMessage
	return json.Marshal(struct {
		Type string `json:"type"`
		fields
	}{m.messageType(), fields(m)})
}

// observer is one registered consumer of a hub. send is never closed, done is
// closed on unregister.
type observer struct {
	send chan []byte
	done chan struct{}
}

// hub fans payloads out to any number of observers. The lock only guards the
// registry, never a send.
type hub struct {
	log     *slog.Logger
	name    string
	depth   int
	metrics *metrics

	mu        sync.Mutex
	observers map[*observer]struct{}
}

func newHub(log *slog.Logger, name string, depth int, m *metrics) *hub {
	return &hub{
		log:       log.With("stage", "hub", "hub", name),
		name:      name,
		depth:     depth,
		metrics:   m,
		observers: make(map[*observer]struct{}),
	}
}

func (h *hub) register() *observer {
	o := &observer{send: make(chan []byte, h.depth), done: make(chan struct{})}

	h.mu.Lock()
	h.observers[o] = struct{}{}
	n := len(h.observers)
	h.mu.Unlock()

	h.metrics.observers.WithLabelValues(h.name).Set(float64(n))
	return o
}

func (h *hub) unregister(o *observer) {
	h.mu.Lock()
	_, ok := h.observers[o]
	delete(h.observers, o)
	n := len(h.observers)
	h.mu.Unlock()

	if ok {
		close(o.done)
	}
	h.metrics.observers.WithLabelValues(h.name).Set(float64(n))
}

// close unregisters every observer, ending their connections.
func (h *hub) close() {
	h.mu.Lock()
	targets := make([]*observer, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	for _, o := range targets {
		h.unregister(o)
	}
}

// broadcast offers payload to every observer, dropping it for any observer
// whose buffer is full.
func (h *hub) broadcast(payload []byte) {
	h.mu.Lock()
	targets := make([]*observer, 0, len(h.observers))
	for o := range h.observers {
		targets = append(targets, o)
	}
	h.mu.Unlock()

	for _, o := range targets {
		select {
		case o.send <- payload:
		default:
			h.metrics.droppedMessages.WithLabelValues(h.name).Inc()
		}
	}
}

func (h *hub) publish(msg uiMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encoding event", "type", msg.messageType(), "err", err)
		return
	}
	h.broadcast(payload)
}
