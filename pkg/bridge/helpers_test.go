package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// recorder is a Transport that stores everything posted on it.
type recorder struct {
	mu   sync.Mutex
	envs []Envelope
	err  error
}

func (r *recorder) Post(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.envs = append(r.envs, env)
	return nil
}

func (r *recorder) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

func (r *recorder) all() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.envs...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func (r *recorder) last() Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.envs) == 0 {
		return Envelope{}
	}
	return r.envs[len(r.envs)-1]
}

// loopback delivers posted envelopes to target in order on its own goroutine.
type loopback struct {
	target *Center
	ch     chan Envelope
}

func (l *loopback) Post(ctx context.Context, env Envelope) error {
	select {
	case l.ch <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *loopback) run(ctx context.Context) {
	for {
		select {
		case env := <-l.ch:
			l.target.Receive(ctx, env)
		case <-ctx.Done():
			return
		}
	}
}

// linkedCenters returns two centers wired to each other.
func linkedCenters(t *testing.T, optsA, optsB []Option) (*Center, *Center) {
	t.Helper()

	ab := &loopback{ch: make(chan Envelope, 64)}
	ba := &loopback{ch: make(chan Envelope, 64)}
	a := NewCenter(ab, optsA...)
	b := NewCenter(ba, optsB...)
	ab.target = b
	ba.target = a

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); ab.run(ctx) }()
	go func() { defer wg.Done(); ba.run(ctx) }()

	t.Cleanup(func() {
		cancel()
		wg.Wait()
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func waitSettled(t *testing.T, f *Future) Envelope {
	t.Helper()
	select {
	case <-f.Done():
		return f.Result()
	case <-time.After(2 * time.Second):
		t.Fatalf("future for %s did not settle", f.Request())
		return Envelope{}
	}
}
