package bridge

import (
	"fmt"
	"time"
)

// Wire keys of the envelope object.
const (
	keyChannel  = "channel"
	keyArgs     = "args"
	keyData     = "data"
	keyReply    = "reply"
	keyP2P      = "p2p"
	keyTimeout  = "timeout"
	keyIndex    = "index"
	keyResponse = "response"

	// legacy peers name the channel "cmd"
	keyLegacyChannel = "cmd"

	keyStatus      = "status"
	keyDescription = "description"
)

// Descriptions carried by synthesized failure envelopes.
const (
	DescTimeout     = "Operate timeout."
	DescCanceled    = "Operate canceled."
	DescClosed      = "Bridge closed."
	DescRateLimited = "Rate limit exceeded."
	DescUnknown     = "Unknown error."
)

// Envelope is the unit exchanged over a transport.
type Envelope struct {
	// Channel is the logical command name, e.g. "readFile".
	Channel string

	// Args is the outbound payload of a request.
	Args any

	// Data is the payload of a reply.
	Data any

	WantsReply bool
	Correlated bool

	// Seq is non-zero iff WantsReply && Correlated on the original request.
	Seq uint64

	// Timeout is advisory; it travels on the wire in milliseconds.
	Timeout time.Duration

	// Response marks the envelope as a reply to a request.
	Response bool

	// Extra is merged into the top level of the wire object.
	Extra map[string]any
}

// Payload returns Data for replies and Args for requests. Pushes from peers
// that only fill data are treated as replies.
func (e Envelope) Payload() any {
	if e.Response || (e.Args == nil && e.Data != nil) {
		return e.Data
	}
	return e.Args
}

// Key returns the routing key of the envelope.
func (e Envelope) Key() RoutingKey {
	return KeyFor(e.Channel, e.Seq)
}

// ReplyTo builds the reply envelope for a request, echoing channel and sequence id.
func (e Envelope) ReplyTo(data any) Envelope {
	return Envelope{
		Channel:    e.Channel,
		Data:       data,
		WantsReply: e.WantsReply,
		Correlated: e.Correlated,
		Seq:        e.Seq,
		Response:   true,
	}
}

// Failure reports the failure sentinel carried in Extra, if any.
func (e Envelope) Failure() (Failure, bool) {
	if e.Extra == nil {
		return Failure{}, false
	}
	raw, ok := e.Extra[keyStatus]
	if !ok {
		return Failure{}, false
	}
	var f Failure
	if err := Decode(map[string]any{
		keyStatus:      raw,
		keyDescription: e.Extra[keyDescription],
	}, &f); err != nil {
		return Failure{}, false
	}
	if f.Status != 0 {
		return Failure{}, false
	}
	return f, true
}

// Failed reports whether the envelope carries the failure sentinel.
func (e Envelope) Failed() bool {
	_, ok := e.Failure()
	return ok
}

func (e Envelope) String() string {
	if e.Seq > 0 {
		return fmt.Sprintf("%s#%d", e.Channel, e.Seq)
	}
	return e.Channel
}

// Failure is the {status:0, description} sentinel used instead of a separate
// error type on the wire.
type Failure struct {
	Status      int    `json:"status"`
	Description string `json:"description"`
}

// FailureError is returned by Invoke when the reply carries a failure.
type FailureError struct {
	Channel     string
	Description string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("bridge: %s failed: %s", e.Channel, e.Description)
}

// failureReply synthesizes the settled envelope for a request that could not
// be answered by the peer.
func failureReply(req Envelope, desc string) Envelope {
	if desc == "" {
		desc = DescUnknown
	}
	reply := req.ReplyTo(map[string]any{
		keyStatus:      0,
		keyDescription: desc,
	})
	reply.Extra = map[string]any{
		keyStatus:      0,
		keyDescription: desc,
	}
	return reply
}
