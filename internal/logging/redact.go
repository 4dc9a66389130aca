package logging

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/webbridge/internal/config"
)

const (
	maxPatternLen = 200

	// PayloadKey is the field name Payload logs under.
	PayloadKey = "payload"

	// maxPayloadLen bounds the rendered size of a logged payload.
	maxPayloadLen = 256
)

// secretMarshaler logs a config.Secret as its length only.
type secretMarshaler struct {
	key string
	val config.Secret
}

func (s *secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString(s.key, fmt.Sprintf("[REDACTED:%d]", len(s.val.Value())))
	return nil
}

// Secret logs a configured credential, e.g. the Redis password, as
// "[REDACTED:<len>]". An empty secret still renders, which makes a missing
// password visible in startup logs.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, &secretMarshaler{key: key, val: val})
}

// RedactedString logs only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// payload renders an envelope payload as JSON when the entry is written,
// so disabled debug logs never pay for the encoding.
type payload struct{ v any }

func (p payload) String() string {
	if p.v == nil {
		return "null"
	}
	raw, err := json.Marshal(p.v)
	if err != nil {
		return fmt.Sprintf("%T", p.v)
	}
	if len(raw) > maxPayloadLen {
		return string(raw[:maxPayloadLen]) + "...(" + strconv.Itoa(len(raw)) + " bytes)"
	}
	return string(raw)
}

// Payload logs an envelope's args or data, truncated. Payloads of channels
// listed in RedactionConfig.Channels are replaced by the redacting encoder.
func Payload(v any) zap.Field {
	return zap.Stringer(PayloadKey, payload{v: v})
}

// RedactingEncoder wraps a zapcore.Encoder to redact sensitive fields by
// name or value pattern, and to hide payloads of sensitive channels.
type RedactingEncoder struct {
	zapcore.Encoder
	redactFields   map[string]bool
	redactRegex    []*regexp.Regexp
	redactChannels map[string]bool

	// hidePayload is set on the per-entry clone when the entry's channel
	// is listed in redactChannels.
	hidePayload bool
}

// NewRedactingEncoder wraps an encoder with redaction rules.
// Returns error if any redaction pattern fails to compile.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}

	e := &RedactingEncoder{
		Encoder:        base,
		redactFields:   make(map[string]bool, len(cfg.Fields)),
		redactChannels: make(map[string]bool, len(cfg.Channels)),
	}
	for _, f := range cfg.Fields {
		e.redactFields[strings.ToLower(f)] = true
	}
	for _, ch := range cfg.Channels {
		e.redactChannels[ch] = true
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		e.redactRegex = append(e.redactRegex, re)
	}
	return e, nil
}

func (e *RedactingEncoder) hidden(key string) bool {
	if e.hidePayload && key == PayloadKey {
		return true
	}
	return e.redactFields[strings.ToLower(key)]
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.hidden(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	for _, re := range e.redactRegex {
		if re.MatchString(val) {
			e.Encoder.AddString(key, "[REDACTED:pattern]")
			return
		}
	}
	e.Encoder.AddString(key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.hidden(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddByteString(key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.hidden(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return
	}
	e.Encoder.AddBinary(key, val)
}

// AddReflected hides the whole value when key is sensitive. Nested keys
// are not inspected.
func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.hidden(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.hidden(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.hidden(key) {
		e.Encoder.AddString(key, "[REDACTED]")
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

// EncodeEntry routes per-call fields through the redacting Add* methods;
// the embedded encoder would otherwise add them to itself directly.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	clone := e.Clone().(*RedactingEncoder)
	if ch := channelField(fields); ch != "" && e.redactChannels[ch] {
		clone.hidePayload = true
	}
	for _, f := range fields {
		f.AddTo(clone)
	}
	return clone.Encoder.EncodeEntry(ent, nil)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{
		Encoder:        e.Encoder.Clone(),
		redactFields:   e.redactFields,
		redactRegex:    e.redactRegex,
		redactChannels: e.redactChannels,
		hidePayload:    e.hidePayload,
	}
}

// channelField returns the value of the "channel" field written by
// ContextFields, or "".
func channelField(fields []zapcore.Field) string {
	for _, f := range fields {
		if f.Key == "channel" && f.Type == zapcore.StringType {
			return f.String
		}
	}
	return ""
}
