package logging

import (
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// maxSampleKeys caps the distinct keys counted per tick. Entries with keys
// beyond the cap are written unsampled.
const maxSampleKeys = 4096

// newSampledCore thins out repetitive entries below Error. Entries are
// counted per level, message and bridge channel within each tick, so a
// chatty channel cannot starve the log lines of a quiet one. The first
// Initial entries of a key pass, then every Thereafter-th.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}
	return &channelSampler{
		Core: core,
		counts: &sampleCounts{
			tick:       cfg.Tick.Duration(),
			initial:    uint64(cfg.Initial),
			thereafter: uint64(cfg.Thereafter),
			seen:       make(map[sampleKey]uint64),
			now:        time.Now,
		},
	}
}

type sampleKey struct {
	level   zapcore.Level
	msg     string
	channel string
}

// sampleCounts is shared by a sampler and every core derived from it.
type sampleCounts struct {
	tick       time.Duration
	initial    uint64
	thereafter uint64
	now        func() time.Time

	mu      sync.Mutex
	resetAt time.Time
	seen    map[sampleKey]uint64
}

func (s *sampleCounts) allow(key sampleKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now := s.now(); !now.Before(s.resetAt) {
		clear(s.seen)
		s.resetAt = now.Add(s.tick)
	}
	n, ok := s.seen[key]
	if !ok && len(s.seen) >= maxSampleKeys {
		return true
	}
	n++
	s.seen[key] = n
	if n <= s.initial {
		return true
	}
	return s.thereafter > 0 && (n-s.initial)%s.thereafter == 0
}

// channelSampler decides at Write time, once the entry's fields and thus
// its channel are known.
type channelSampler struct {
	zapcore.Core
	counts *sampleCounts
	// channel comes from fields bound with With.
	channel string
}

func (c *channelSampler) With(fields []zapcore.Field) zapcore.Core {
	ch := channelField(fields)
	if ch == "" {
		ch = c.channel
	}
	return &channelSampler{Core: c.Core.With(fields), counts: c.counts, channel: ch}
}

func (c *channelSampler) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(ent.Level) {
		return ce
	}
	return ce.AddCore(ent, c)
}

func (c *channelSampler) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if ent.Level < zapcore.ErrorLevel {
		ch := channelField(fields)
		if ch == "" {
			ch = c.channel
		}
		if !c.counts.allow(sampleKey{level: ent.Level, msg: ent.Message, channel: ch}) {
			return nil
		}
	}
	return c.Core.Write(ent, fields)
}
