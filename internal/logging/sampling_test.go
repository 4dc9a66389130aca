package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/webbridge/internal/config"
)

func sampled(initial, thereafter int) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    initial,
		Thereafter: thereafter,
	})), logs
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	logger, logs := sampled(2, 0)

	for i := 0; i < 10; i++ {
		logger.Info("no handler for envelope")
		logger.Error("posting reply failed")
	}

	assert.Equal(t, 2, logs.FilterMessage("no handler for envelope").Len())
	assert.Equal(t, 10, logs.FilterMessage("posting reply failed").Len())
}

func TestSampledCore_CountsPerChannel(t *testing.T) {
	logger, logs := sampled(2, 0)

	for i := 0; i < 50; i++ {
		logger.Debug("received envelope", zap.String("channel", "webviewDidChangeViewState"))
	}
	logger.Debug("received envelope", zap.String("channel", "readFile"))
	logger.Debug("received envelope", zap.String("channel", "readFile"))

	assert.Equal(t, 2, logs.FilterField(zap.String("channel", "webviewDidChangeViewState")).Len())
	assert.Equal(t, 2, logs.FilterField(zap.String("channel", "readFile")).Len())
}

func TestSampledCore_ChannelBoundWithWith(t *testing.T) {
	logger, logs := sampled(1, 0)
	chatty := logger.With(zap.String("channel", "tick"))
	quiet := logger.With(zap.String("channel", "getPlatform"))

	for i := 0; i < 5; i++ {
		chatty.Info("handled")
	}
	quiet.Info("handled")

	assert.Equal(t, 2, logs.FilterMessage("handled").Len())
}

func TestSampledCore_Thereafter(t *testing.T) {
	logger, logs := sampled(1, 3)

	for i := 0; i < 10; i++ {
		logger.Info("same", zap.String("channel", "tick"))
	}
	// 1st, then the 4th, 7th and 10th
	assert.Equal(t, 4, logs.Len())
}

func TestSampleCounts_TickResets(t *testing.T) {
	now := time.Unix(0, 0)
	s := &sampleCounts{
		tick:    time.Second,
		initial: 1,
		seen:    make(map[sampleKey]uint64),
		now:     func() time.Time { return now },
	}
	key := sampleKey{level: zapcore.InfoLevel, msg: "m", channel: "tick"}

	assert.True(t, s.allow(key))
	assert.False(t, s.allow(key))

	now = now.Add(time.Second)
	assert.True(t, s.allow(key))
}

func TestSampledCore_Disabled(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(newSampledCore(core, SamplingConfig{Enabled: false}))

	for i := 0; i < 5; i++ {
		logger.Info("same")
	}
	assert.Equal(t, 5, logs.Len())
}
