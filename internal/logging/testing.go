package logging

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry so tests can assert on bridge log output.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger returns a logger recording entries at every level.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

func (t *TestLogger) Len() int { return t.observed.Len() }

func (t *TestLogger) All() []observer.LoggedEntry { return t.observed.All() }

// FilterMessage returns entries whose message is exactly msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessage(msg)
}

// Reset drops everything recorded so far.
func (t *TestLogger) Reset() { t.observed.TakeAll() }

// AssertLogged fails unless an entry at level contains msgContains.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if t.find(level, msgContains) == nil {
		tb.Errorf("expected log at %v containing %q, got %d entries", level, msgContains, t.observed.Len())
	}
}

// AssertNotLogged fails if an entry at level contains msgContains.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if e := t.find(level, msgContains); e != nil {
		tb.Errorf("unexpected log at %v: %q", level, e.Message)
	}
}

func (t *TestLogger) find(level zapcore.Level, msgContains string) *observer.LoggedEntry {
	for _, e := range t.observed.All() {
		if e.Level == level && strings.Contains(e.Message, msgContains) {
			return &e
		}
	}
	return nil
}

// AssertField fails unless some entry with message msg carries key=expected.
// Values compare as zap renders them: uint64 for seq, string for channel.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected any) {
	tb.Helper()
	for _, e := range t.observed.FilterMessage(msg).All() {
		if v, ok := e.ContextMap()[key]; ok && reflect.DeepEqual(v, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}

// AssertChannel fails unless msg was logged for channel. A non-zero seq
// must match too.
func (t *TestLogger) AssertChannel(tb testing.TB, msg, channel string, seq uint64) {
	tb.Helper()
	t.AssertField(tb, msg, "channel", channel)
	if seq > 0 {
		t.AssertField(tb, msg, "seq", seq)
	}
}

// AssertPeer fails unless msg was logged with the peer set by WithPeer.
func (t *TestLogger) AssertPeer(tb testing.TB, msg, peer string) {
	tb.Helper()
	t.AssertField(tb, msg, "peer", peer)
}

// AssertNoSecrets applies the default redaction rules to everything
// recorded: sensitive field names must hold redacted values, no value may
// match a redaction pattern, and payloads of redacted channels must not
// appear at all.
func (t *TestLogger) AssertNoSecrets(tb testing.TB) {
	tb.Helper()
	rules := NewDefaultConfig().Redaction
	patterns := make([]*regexp.Regexp, 0, len(rules.Patterns))
	for _, p := range rules.Patterns {
		patterns = append(patterns, regexp.MustCompile(p))
	}
	hiddenChannels := make(map[string]bool, len(rules.Channels))
	for _, ch := range rules.Channels {
		hiddenChannels[ch] = true
	}

	for _, e := range t.observed.All() {
		for _, re := range patterns {
			if re.MatchString(e.Message) {
				tb.Errorf("sensitive pattern in message %q", e.Message)
			}
		}
		hidePayload := hiddenChannels[channelField(e.Context)]

		for _, f := range e.Context {
			val, ok := fieldString(f)
			if !ok {
				continue
			}
			if hidePayload && f.Key == PayloadKey {
				tb.Errorf("payload of channel %q logged in %q", channelField(e.Context), e.Message)
			}
			if sensitiveKey(f.Key, rules.Fields) && val != "" && !strings.HasPrefix(val, "[REDACTED") {
				tb.Errorf("sensitive field %q not redacted in %q", f.Key, e.Message)
			}
			for _, re := range patterns {
				if re.MatchString(val) {
					tb.Errorf("sensitive pattern in field %q of %q", f.Key, e.Message)
				}
			}
		}
	}
}

func sensitiveKey(key string, names []string) bool {
	key = strings.ToLower(key)
	for _, n := range names {
		if strings.Contains(key, n) {
			return true
		}
	}
	return false
}

// fieldString renders string-like fields, including lazily rendered
// payloads and secrets.
func fieldString(f zapcore.Field) (string, bool) {
	switch f.Type {
	case zapcore.StringType:
		return f.String, true
	case zapcore.StringerType:
		return f.Interface.(fmt.Stringer).String(), true
	case zapcore.ObjectMarshalerType:
		enc := zapcore.NewMapObjectEncoder()
		if err := f.Interface.(zapcore.ObjectMarshaler).MarshalLogObject(enc); err != nil {
			return "", false
		}
		if s, ok := enc.Fields[f.Key].(string); ok {
			return s, true
		}
	}
	return "", false
}
