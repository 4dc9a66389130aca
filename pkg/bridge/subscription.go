package bridge

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler receives envelopes delivered to a subscription.
type Handler func(ctx context.Context, env Envelope)

// Subscription is a registered handler. Keep the value to unsubscribe.
type Subscription struct {
	id      string
	key     RoutingKey
	handler Handler

	// guarded by Center.mu; -1 means unlimited
	remaining int
}

// ID returns the unique id of the subscription.
func (s *Subscription) ID() string { return s.id }

// Key returns the routing key the subscription listens on.
func (s *Subscription) Key() RoutingKey { return s.key }

// Subscribe registers h for envelopes on channel. times limits how many
// deliveries it receives before being removed; zero or negative means
// unlimited.
func (c *Center) Subscribe(channel string, h Handler, times int) *Subscription {
	return c.subscribe(KeyFor(channel, 0), h, times)
}

// SubscribeReply registers a one-shot handler for the correlated reply
// channel&&seq.
func (c *Center) SubscribeReply(channel string, seq uint64, h Handler) *Subscription {
	return c.subscribe(KeyFor(channel, seq), h, 1)
}

func (c *Center) subscribe(key RoutingKey, h Handler, times int) *Subscription {
	if times <= 0 {
		times = -1
	}
	sub := &Subscription{
		id:        uuid.NewString(),
		key:       key,
		handler:   h,
		remaining: times,
	}

	c.mu.Lock()
	c.subs[key] = append(c.subs[key], sub)
	c.mu.Unlock()

	c.logger.Debug("subscribed",
		zap.String("key", key.String()),
		zap.String("subscription_id", sub.id),
		zap.Int("times", times))
	return sub
}

// Unsubscribe removes sub. It reports whether sub was still registered.
func (c *Center) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	subs := c.subs[sub.key]
	for i, s := range subs {
		if s != sub {
			continue
		}
		if len(subs) == 1 {
			delete(c.subs, sub.key)
		} else {
			c.subs[sub.key] = append(subs[:i:i], subs[i+1:]...)
		}
		return true
	}
	return false
}

// UnsubscribeAll removes every subscription on channel, including the
// correlated keys of that channel, and returns how many were removed.
func (c *Center) UnsubscribeAll(channel string) int {
	prefix := channel + KeySeparator

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, subs := range c.subs {
		if string(key) == channel || strings.HasPrefix(string(key), prefix) {
			n += len(subs)
			delete(c.subs, key)
		}
	}
	return n
}

// dispatch delivers env to the subscriptions on key, falling back to the
// plain channel key for correlated envelopes nobody subscribed to directly.
func (c *Center) dispatch(ctx context.Context, key RoutingKey, env Envelope) bool {
	c.mu.Lock()
	subs := c.subs[key]
	if len(subs) == 0 && key.Correlated() {
		key = KeyFor(env.Channel, 0)
		subs = c.subs[key]
	}
	if len(subs) == 0 {
		c.mu.Unlock()
		return false
	}

	handlers := make([]Handler, 0, len(subs))
	kept := subs[:0:0]
	for _, s := range subs {
		handlers = append(handlers, s.handler)
		if s.remaining > 0 {
			s.remaining--
		}
		if s.remaining != 0 {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(c.subs, key)
	} else {
		c.subs[key] = kept
	}
	c.mu.Unlock()

	for _, h := range handlers {
		c.invokeHandler(ctx, key, h, env)
	}
	return true
}

func (c *Center) invokeHandler(ctx context.Context, key RoutingKey, h Handler, env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscription handler panicked",
				zap.String("key", key.String()),
				zap.Any("panic", r))
		}
	}()
	h(ctx, env)
}
