package bridge

import (
	"strconv"
	"strings"
)

// KeySeparator joins channel and sequence id in a correlated routing key.
const KeySeparator = "&&"

// RoutingKey identifies the waiters of an envelope: the channel alone for
// broadcast traffic, channel&&seq for correlated calls.
type RoutingKey string

// KeyFor builds the routing key for channel and seq. A zero seq yields the
// plain channel key.
func KeyFor(channel string, seq uint64) RoutingKey {
	if seq == 0 {
		return RoutingKey(channel)
	}
	return RoutingKey(channel + KeySeparator + strconv.FormatUint(seq, 10))
}

// Channel returns the channel part of the key.
func (k RoutingKey) Channel() string {
	ch, _, _ := strings.Cut(string(k), KeySeparator)
	return ch
}

// Correlated reports whether the key carries a sequence id.
func (k RoutingKey) Correlated() bool {
	return strings.Contains(string(k), KeySeparator)
}

func (k RoutingKey) String() string { return string(k) }
