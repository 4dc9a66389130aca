package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ErrInvalidEnvelope is returned when a wire object cannot be turned into an Envelope.
var ErrInvalidEnvelope = errors.New("bridge: invalid envelope")

// Decode converts a loosely typed payload (decoded JSON or MessagePack, or an
// in-process value) into out. Struct fields are matched by their json tags and
// numeric kinds are converted weakly, so a float64 from JSON fills an int field.
func Decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Squash:           true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
	})
	if err != nil {
		return fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// wireHeader is the typed view of the well-known wire keys.
type wireHeader struct {
	Channel  string         `mapstructure:"channel"`
	Cmd      string         `mapstructure:"cmd"`
	Args     any            `mapstructure:"args"`
	Data     any            `mapstructure:"data"`
	Reply    bool           `mapstructure:"reply"`
	P2P      bool           `mapstructure:"p2p"`
	Timeout  int64          `mapstructure:"timeout"`
	Index    uint64         `mapstructure:"index"`
	Response bool           `mapstructure:"response"`
	Extra    map[string]any `mapstructure:",remain"`
}

// Wire returns the language-neutral object for the envelope:
//
//	{channel, args?, reply, p2p, timeout?, index?, data?, response?, ...extra}
//
// Extra keys are written first so the well-known keys always win.
func (e Envelope) Wire() map[string]any {
	m := make(map[string]any, len(e.Extra)+8)
	for k, v := range e.Extra {
		m[k] = v
	}
	m[keyChannel] = e.Channel
	m[keyReply] = e.WantsReply
	m[keyP2P] = e.Correlated
	if e.Args != nil {
		m[keyArgs] = e.Args
	}
	if e.Data != nil {
		m[keyData] = e.Data
	}
	if e.Timeout > 0 {
		m[keyTimeout] = e.Timeout.Milliseconds()
	}
	if e.Seq > 0 {
		m[keyIndex] = e.Seq
	}
	if e.Response {
		m[keyResponse] = true
	}
	return m
}

// FromWire parses a wire object produced by Wire or by a legacy peer that
// names the channel "cmd".
func FromWire(m map[string]any) (Envelope, error) {
	var h wireHeader
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &h,
	})
	if err != nil {
		return Envelope{}, fmt.Errorf("creating decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	channel := h.Channel
	if channel == "" {
		channel = h.Cmd
	}
	if channel == "" {
		return Envelope{}, fmt.Errorf("%w: missing channel", ErrInvalidEnvelope)
	}

	env := Envelope{
		Channel:    channel,
		Args:       h.Args,
		Data:       h.Data,
		WantsReply: h.Reply,
		Correlated: h.P2P,
		Seq:        h.Index,
		Timeout:    time.Duration(h.Timeout) * time.Millisecond,
		Response:   h.Response,
	}
	if len(h.Extra) > 0 {
		env.Extra = h.Extra
	}
	return env, nil
}
