// Package logging provides structured logging for webbridge.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Custom Trace level (-2, below Debug) for envelope dumps
//   - Automatic context field injection (trace_id, peer, channel, seq)
//   - Secret redaction by field name and value pattern
//   - Envelope payload fields, hidden for sensitive channels
//   - Sampling per message and channel (errors never sampled)
//
// Logs go to stderr by default: the stdio transport owns stdout.
//
// # Usage
//
// Create logger from config:
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
// Log with context:
//
//	ctx = logging.WithPeer(ctx, "webview-1")
//	ctx = logging.WithChannel(ctx, "getData", 7)
//	logger.Info(ctx, "request settled", zap.Duration("elapsed", d))
//
// Output includes automatic correlation:
//
//	{
//	  "ts": "2026-03-02T10:15:30Z",
//	  "level": "info",
//	  "msg": "request settled",
//	  "peer": "webview-1",
//	  "channel": "getData",
//	  "seq": 7,
//	  "elapsed": "45ms"
//	}
//
// Library packages take a *zap.Logger; pass Logger.Underlying().
package logging
