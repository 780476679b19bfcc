// Package channels maps logical channel names to subscribed connections and
// fans published events out to them.
package channels

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/spacedock/schema"
)

// Sender delivers a named event to one connection. The channel is empty for
// broadcasts. Delivery failures are the sender's problem; the registry logs
// and moves on.
type Sender interface {
	Send(connID schema.ConnID, channel schema.ChannelName, event string, payload any) error
}

// Registry tracks which connections subscribe to which channels.
//
// Publishes on one channel are delivered in call order: fan-out happens
// synchronously under the registry mutex, so an ordered producer (the session
// pull-loop) observes the same order at every subscriber.
type Registry struct {
	mu       sync.Mutex
	sender   Sender
	channels map[schema.ChannelName]map[schema.ConnID]struct{}
	conns    map[schema.ConnID]map[schema.ChannelName]struct{}
	log      pslog.Logger
}

// New constructs a Registry delivering through the given sender.
func New(sender Sender, logger pslog.Logger) *Registry {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Registry{
		sender:   sender,
		channels: make(map[schema.ChannelName]map[schema.ConnID]struct{}),
		conns:    make(map[schema.ConnID]map[schema.ChannelName]struct{}),
		log:      logger,
	}
}

// Subscribe adds the connection to the channel. Idempotent.
func (r *Registry) Subscribe(channel schema.ChannelName, connID schema.ConnID) {
	if channel == "" || connID == "" {
		return
	}
	r.mu.Lock()
	subs := r.channels[channel]
	if subs == nil {
		subs = make(map[schema.ConnID]struct{})
		r.channels[channel] = subs
	}
	subs[connID] = struct{}{}
	joined := r.conns[connID]
	if joined == nil {
		joined = make(map[schema.ChannelName]struct{})
		r.conns[connID] = joined
	}
	joined[channel] = struct{}{}
	count := len(subs)
	r.mu.Unlock()
	r.log.Debug("channel subscribe", "channel", channel, "conn", connID, "subs", count)
}

// Unsubscribe removes the connection from the channel. Empty channels are
// garbage collected.
func (r *Registry) Unsubscribe(channel schema.ChannelName, connID schema.ConnID) {
	r.mu.Lock()
	r.unsubscribeLocked(channel, connID)
	r.mu.Unlock()
	r.log.Debug("channel unsubscribe", "channel", channel, "conn", connID)
}

// UnsubscribeAll removes the connection from every channel it joined. Used on
// connection teardown; walks the reverse index rather than every channel.
func (r *Registry) UnsubscribeAll(connID schema.ConnID) {
	r.mu.Lock()
	joined := r.conns[connID]
	count := len(joined)
	for channel := range joined {
		r.unsubscribeLocked(channel, connID)
	}
	r.mu.Unlock()
	if count > 0 {
		r.log.Debug("channel unsubscribe all", "conn", connID, "channels", count)
	}
}

// Publish delivers the event to every subscriber of the channel. Per-conn
// delivery failures do not stop the fan-out and never reach the caller.
func (r *Registry) Publish(channel schema.ChannelName, event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.channels[channel] {
		if err := r.sender.Send(connID, channel, event, payload); err != nil {
			r.log.Trace("channel send failed", "channel", channel, "conn", connID, "err", err)
		}
	}
}

// Broadcast delivers the event to every distinct connection in the registry,
// regardless of which channels it joined.
func (r *Registry) Broadcast(event string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.conns {
		if err := r.sender.Send(connID, "", event, payload); err != nil {
			r.log.Trace("channel send failed", "conn", connID, "err", err)
		}
	}
}

// Clear drops every subscription. Used on space sleep.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.channels = make(map[schema.ChannelName]map[schema.ConnID]struct{})
	r.conns = make(map[schema.ConnID]map[schema.ChannelName]struct{})
	r.mu.Unlock()
}

// ChannelSize reports the subscriber count for a channel.
func (r *Registry) ChannelSize(channel schema.ChannelName) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// Channels reports the number of live channel entries.
func (r *Registry) Channels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *Registry) unsubscribeLocked(channel schema.ChannelName, connID schema.ConnID) {
	if subs := r.channels[channel]; subs != nil {
		delete(subs, connID)
		if len(subs) == 0 {
			delete(r.channels, channel)
		}
	}
	if joined := r.conns[connID]; joined != nil {
		delete(joined, channel)
		if len(joined) == 0 {
			delete(r.conns, connID)
		}
	}
}
