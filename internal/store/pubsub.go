package store

import (
	"context"
	"sync"
)

// subscriptionBuffer is how many undelivered messages a slow subscriber may
// hold before new ones are dropped.
const subscriptionBuffer = 100

// Message is one payload received on a subscribed channel.
type Message struct {
	Channel string
	Payload string
}

// Subscription delivers messages for a set of channels, from either Redis or
// the in-process hub.
type Subscription struct {
	channels map[string]bool
	msgChan  chan *Message
	closeCh  chan struct{}
	closed   bool
	mu       sync.RWMutex

	// onClose releases the backing Redis subscription, if any.
	onClose func() error
}

func newSubscription(channels []string) *Subscription {
	set := make(map[string]bool, len(channels))
	for _, ch := range channels {
		set[ch] = true
	}
	return &Subscription{
		channels: set,
		msgChan:  make(chan *Message, subscriptionBuffer),
		closeCh:  make(chan struct{}),
	}
}

// Channel is closed once the subscription is closed.
func (s *Subscription) Channel() <-chan *Message {
	return s.msgChan
}

// Done is closed once the subscription is closed.
func (s *Subscription) Done() <-chan struct{} {
	return s.closeCh
}

func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	close(s.msgChan)
	onClose := s.onClose
	s.mu.Unlock()

	if onClose != nil {
		return onClose()
	}
	return nil
}

// deliver is a non-blocking send. It reports false when the message was
// dropped because the subscriber is closed, not listening or full.
func (s *Subscription) deliver(msg *Message) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || !s.channels[msg.Channel] {
		return false
	}
	select {
	case s.msgChan <- msg:
		return true
	default:
		return false
	}
}

// PubSubHub fans published messages out to in-process subscribers. It stands
// in for Redis pub/sub when Redis is not configured or unreachable.
type PubSubHub struct {
	subscribers map[string][]*Subscription
	mu          sync.RWMutex
}

func NewPubSubHub() *PubSubHub {
	return &PubSubHub{
		subscribers: make(map[string][]*Subscription),
	}
}

// Subscribe registers a subscription that lives until it is closed or ctx ends.
func (h *PubSubHub) Subscribe(ctx context.Context, channels ...string) *Subscription {
	sub := newSubscription(channels)

	h.mu.Lock()
	for _, ch := range channels {
		h.subscribers[ch] = append(h.subscribers[ch], sub)
	}
	h.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.closeCh:
		}
		h.remove(sub, channels)
	}()

	return sub
}

func (h *PubSubHub) remove(sub *Subscription, channels []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range channels {
		subs := h.subscribers[ch]
		for i, s := range subs {
			if s == sub {
				h.subscribers[ch] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(h.subscribers[ch]) == 0 {
			delete(h.subscribers, ch)
		}
	}
}

// Publish returns how many subscribers received the message.
func (h *PubSubHub) Publish(channel, payload string) int {
	h.mu.RLock()
	subs := make([]*Subscription, len(h.subscribers[channel]))
	copy(subs, h.subscribers[channel])
	h.mu.RUnlock()

	msg := &Message{Channel: channel, Payload: payload}
	delivered := 0
	for _, sub := range subs {
		if sub.deliver(msg) {
			delivered++
		}
	}
	return delivered
}

// Subscribers counts live subscriptions on channel.
func (h *PubSubHub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channel])
}
