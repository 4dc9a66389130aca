// Package transport provides the wire codecs shared by the bridge transports.
//
// Every codec serializes the language-neutral wire object produced by
// bridge.Envelope.Wire and parses it back with bridge.FromWire, so peers
// written in other languages only need to agree on the object shape:
//
//	{channel, args?, reply, p2p, timeout?, index?, data?, response?, ...extra}
//
// Two codecs are available:
//   - JSON: one object per line, the format used by browser postMessage bridges
//   - MsgPack: self-delimiting MessagePack maps
package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
)

// Codec names accepted by ByName.
const (
	CodecJSON    = "json"
	CodecMsgPack = "msgpack"
)

// ErrUnknownCodec is returned by ByName.
var ErrUnknownCodec = errors.New("unknown codec")

// Encoder writes envelopes to a stream.
type Encoder interface {
	Encode(env bridge.Envelope) error
}

// Decoder reads envelopes from a stream. It returns io.EOF at a clean end of
// stream.
type Decoder interface {
	Decode() (bridge.Envelope, error)
}

// Codec converts envelopes to and from bytes.
type Codec interface {
	Name() string
	Marshal(env bridge.Envelope) ([]byte, error)
	Unmarshal(data []byte) (bridge.Envelope, error)
	NewEncoder(w io.Writer) Encoder
	NewDecoder(r io.Reader) Decoder
}

// ByName returns the codec registered under name.
func ByName(name string) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return JSON, nil
	case CodecMsgPack:
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

// JSON is the newline-delimited JSON codec.
var JSON Codec = jsonCodec{}

// MsgPack is the MessagePack codec.
var MsgPack Codec = msgpackCodec{}

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecJSON }

func (jsonCodec) Marshal(env bridge.Envelope) ([]byte, error) {
	data, err := json.Marshal(env.Wire())
	if err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", env, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte) (bridge.Envelope, error) {
	var m map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &m); err != nil {
		return bridge.Envelope{}, fmt.Errorf("%w: %v", bridge.ErrInvalidEnvelope, err)
	}
	return bridge.FromWire(m)
}

func (jsonCodec) NewEncoder(w io.Writer) Encoder {
	return &jsonEncoder{enc: json.NewEncoder(w)}
}

func (jsonCodec) NewDecoder(r io.Reader) Decoder {
	return &jsonDecoder{r: bufio.NewReader(r)}
}

type jsonEncoder struct {
	enc *json.Encoder
}

// Encode writes one object followed by a newline.
func (e *jsonEncoder) Encode(env bridge.Envelope) error {
	if err := e.enc.Encode(env.Wire()); err != nil {
		return fmt.Errorf("encode envelope %s: %w", env, err)
	}
	return nil
}

type jsonDecoder struct {
	r *bufio.Reader
}

// Decode reads one line. Blank lines are skipped; a malformed line yields an
// error wrapping bridge.ErrInvalidEnvelope and leaves the stream usable.
func (d *jsonDecoder) Decode() (bridge.Envelope, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			return JSON.Unmarshal(line)
		}
		if err != nil {
			return bridge.Envelope{}, err
		}
	}
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return CodecMsgPack }

func (msgpackCodec) Marshal(env bridge.Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := newMsgpackEncoder(&buf).Encode(env.Wire()); err != nil {
		return nil, fmt.Errorf("marshal envelope %s: %w", env, err)
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Unmarshal(data []byte) (bridge.Envelope, error) {
	env, err := decodeMsgpack(newMsgpackDecoder(bytes.NewReader(data)))
	if err != nil && !errors.Is(err, bridge.ErrInvalidEnvelope) {
		return bridge.Envelope{}, fmt.Errorf("%w: %v", bridge.ErrInvalidEnvelope, err)
	}
	return env, err
}

func (msgpackCodec) NewEncoder(w io.Writer) Encoder {
	return &msgpackEncoder{enc: newMsgpackEncoder(w)}
}

func (msgpackCodec) NewDecoder(r io.Reader) Decoder {
	return &msgpackDecoder{dec: newMsgpackDecoder(bufio.NewReader(r))}
}

func newMsgpackEncoder(w io.Writer) *msgpack.Encoder {
	enc := msgpack.NewEncoder(w)
	enc.SetCustomStructTag("json")
	return enc
}

func newMsgpackDecoder(r io.Reader) *msgpack.Decoder {
	dec := msgpack.NewDecoder(r)
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	return dec
}

// decodeMsgpack reads one map. Stream errors are returned as is since a
// broken MessagePack stream cannot be resynchronized.
func decodeMsgpack(dec *msgpack.Decoder) (bridge.Envelope, error) {
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return bridge.Envelope{}, io.EOF
		}
		return bridge.Envelope{}, fmt.Errorf("decode msgpack: %w", err)
	}
	return bridge.FromWire(m)
}

type msgpackEncoder struct {
	enc *msgpack.Encoder
}

func (e *msgpackEncoder) Encode(env bridge.Envelope) error {
	if err := e.enc.Encode(env.Wire()); err != nil {
		return fmt.Errorf("encode envelope %s: %w", env, err)
	}
	return nil
}

type msgpackDecoder struct {
	dec *msgpack.Decoder
}

func (d *msgpackDecoder) Decode() (bridge.Envelope, error) {
	return decodeMsgpack(d.dec)
}
