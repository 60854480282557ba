package event

import (
	"errors"
	"strings"
	"sync"
	"time"

	orderdomain "github.com/smallbiznis/bookvault/internal/order/domain"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

// Transition is published every time an order changes status. Subscribers
// keyed by order number receive them in commit order.
type Transition struct {
	OrderNumber string             `json:"order_number"`
	From        orderdomain.Status `json:"from"`
	To          orderdomain.Status `json:"to"`
	At          time.Time          `json:"at"`
}

type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []Transition
	subs   map[uint64]chan Transition
	nextID uint64
}

type Subscription struct {
	hub         *Hub
	orderNumber string
	id          uint64
	ch          chan Transition
	once        sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

// Publish buffers t for the order and delivers it to every subscriber. The
// buffer is written even when nobody is subscribed yet, so a late subscriber
// still sees the history. Slow subscribers are skipped rather than blocking
// the publisher.
func (h *Hub) Publish(t Transition) {
	if h == nil {
		return
	}
	number := strings.TrimSpace(t.OrderNumber)
	if number == "" {
		return
	}
	stream := h.ensureStream(number)

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, t)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan Transition, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// Subscribe registers for transitions of one order and returns the buffered
// history so late subscribers can catch up.
func (h *Hub) Subscribe(orderNumber string) (*Subscription, []Transition, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return nil, nil, errors.New("invalid_order_number")
	}

	stream := h.ensureStream(number)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan Transition)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan Transition, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]Transition(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:         h,
		orderNumber: number,
		id:          id,
		ch:          ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(orderNumber string) *stream {
	h.mu.RLock()
	current := h.streams[orderNumber]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[orderNumber]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan Transition)}
		h.streams[orderNumber] = current
	}
	return current
}

func (h *Hub) unsubscribe(orderNumber string, id uint64) {
	if h == nil {
		return
	}
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return
	}

	h.mu.RLock()
	stream := h.streams[number]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	// The stream outlives its subscribers; the bounded buffer keeps the
	// order's history for the next one.
	stream.mu.Lock()
	delete(stream.subs, id)
	stream.mu.Unlock()
}

func (s *Subscription) Events() <-chan Transition {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.orderNumber, s.id)
	})
}
