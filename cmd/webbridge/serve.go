package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/webbridge/internal/config"
	"github.com/fyrsmithlabs/webbridge/internal/httpapi"
	"github.com/fyrsmithlabs/webbridge/internal/logging"
	"github.com/fyrsmithlabs/webbridge/internal/state"
	"github.com/fyrsmithlabs/webbridge/internal/telemetry"
	"github.com/fyrsmithlabs/webbridge/pkg/bridge"
	"github.com/fyrsmithlabs/webbridge/pkg/hostapi"
	"github.com/fyrsmithlabs/webbridge/pkg/transport"
	"github.com/fyrsmithlabs/webbridge/pkg/transport/natsbus"
	"github.com/fyrsmithlabs/webbridge/pkg/transport/stream"
)

const tracerName = "github.com/fyrsmithlabs/webbridge"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer the host API for a peer",
		Long: `Serve the host API over the configured transport.

With the stdio transport, envelopes are read from stdin and written to
stdout; logs go to stderr.

Examples:
  # Serve over stdio with defaults
  webbridge serve

  # Serve over NATS using a config file
  webbridge serve --config webbridge.yaml

  # Override settings from the environment
  WEBBRIDGE_TRANSPORT_CODEC=msgpack webbridge serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(ctx, cfg, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "config file (YAML or TOML)")
	return cmd
}

// peerConn is both halves of a transport.
type peerConn interface {
	bridge.Transport
	bridge.Listener
}

// daemon holds everything serve wires together.
type daemon struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	center *bridge.Center
	conn   peerConn
	http   *httpapi.Server

	// watched stores push external edits to the peer once serving
	watched []*state.File
	closers []func() error
}

// runServe serves until ctx ends or the peer closes the stream.
func runServe(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	d, err := newDaemon(ctx, cfg, in, out)
	if err != nil {
		return err
	}

	runErr := d.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return errors.Join(runErr, d.shutdown(shutdownCtx))
}

func newDaemon(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) (_ *daemon, err error) {
	d := &daemon{cfg: cfg}
	defer func() {
		if err != nil {
			_ = d.closeAll()
		}
	}()

	logCfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", logCfg); err != nil {
		return nil, err
	}
	d.logger, err = logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	d.closers = append(d.closers, d.logger.Close)
	zl := d.logger.Underlying()

	telCfg := telemetry.NewDefaultConfig()
	if err := cfg.Section("telemetry", telCfg); err != nil {
		return nil, err
	}
	d.tel, err = telemetry.New(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	codec, err := transport.ByName(cfg.Transport.Codec)
	if err != nil {
		return nil, err
	}
	if err := d.openTransport(ctx, codec, in, out); err != nil {
		return nil, err
	}

	stores, err := d.openStores(ctx)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	opts := []bridge.Option{
		bridge.WithLogger(zl.Named("bridge")),
		bridge.WithMetrics(bridge.NewMetrics(reg)),
		bridge.WithTracer(d.tel.Tracer(tracerName)),
		bridge.WithDefaultTimeout(cfg.Bridge.DefaultTimeout.Duration()),
	}
	if cfg.Bridge.RateLimit > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.Bridge.RateLimit), cfg.Bridge.RateBurst)
		opts = append(opts, bridge.WithResponderOptions(bridge.WithRateLimit(limiter)))
	}
	if cfg.Bridge.Inline {
		opts = append(opts, bridge.WithResponderOptions(bridge.Inline()))
	}
	d.center = bridge.NewCenter(d.conn, opts...)

	host := hostapi.NewHost(hostapi.Config{
		Name:                cfg.Host.Name,
		ExtensionPath:       cfg.Host.ExtensionPath,
		StoragePath:         cfg.Host.StoragePath,
		WorkspaceFolders:    cfg.Host.WorkspaceFolders,
		RestrictToWorkspace: cfg.Host.RestrictToWorkspace,
		Output:              os.Stderr,
		HTTPClient:          &http.Client{Timeout: cfg.Host.RequestTimeout.Duration()},
		GlobalState:         stores[hostapi.ScopeGlobal],
		WorkspaceState:      stores[hostapi.ScopeWorkspace],
		WebviewData:         stores[hostapi.ScopeWebview],
	}, zl.Named("host"))
	d.center.AddCommands(host.Commands())

	if cfg.Server.Enabled {
		d.http, err = httpapi.NewServer(d.center, zl.Named("http"), &httpapi.Config{
			Host:     cfg.Server.Host,
			Port:     cfg.Server.Port,
			Registry: reg,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create http server: %w", err)
		}
	}
	return d, nil
}

func (d *daemon) openTransport(ctx context.Context, codec transport.Codec, in io.Reader, out io.Writer) error {
	zl := d.logger.Underlying().Named("transport")

	switch d.cfg.Transport.Kind {
	case "nats":
		nc, err := nats.Connect(d.cfg.Transport.NATS.URL, nats.Name(d.cfg.Transport.NATS.Name))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		d.logger.Info(ctx, "connected to NATS", natsURLField(d.cfg.Transport.NATS.URL))
		d.closers = append(d.closers, func() error {
			if err := nc.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				return err
			}
			return nil
		})
		bus, err := natsbus.New(nc,
			d.cfg.Transport.NATS.PublishSubject,
			d.cfg.Transport.NATS.SubscribeSubject,
			codec,
			natsbus.WithLogger(zl),
			natsbus.WithPendingLimit(d.cfg.Transport.NATS.PendingLimit),
		)
		if err != nil {
			return err
		}
		d.conn = bus
	default:
		conn := stream.New(in, out, codec, stream.WithLogger(zl), stream.WithPeer("stdio"))
		d.closers = append(d.closers, conn.Close)
		d.conn = conn
	}
	return nil
}

// openStores builds one store per scope from the state backend.
func (d *daemon) openStores(ctx context.Context) (map[hostapi.Scope]hostapi.Store, error) {
	scopes := []hostapi.Scope{hostapi.ScopeGlobal, hostapi.ScopeWorkspace, hostapi.ScopeWebview}
	stores := make(map[hostapi.Scope]hostapi.Store, len(scopes))
	sc := d.cfg.State

	switch sc.Backend {
	case "file":
		if err := os.MkdirAll(sc.Dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating state dir: %w", err)
		}
		for _, scope := range scopes {
			path := filepath.Join(sc.Dir, string(scope)+"."+sc.Format)
			f, err := state.NewFile(path, state.WithLogger(d.logger.Underlying().Named("state")))
			if err != nil {
				return nil, err
			}
			d.closers = append(d.closers, f.Close)
			stores[scope] = f
			if sc.Watch && scope == hostapi.ScopeWebview {
				d.watched = append(d.watched, f)
			}
		}
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     sc.Redis.Addr,
			Password: sc.Redis.Password.Value(),
			DB:       sc.Redis.DB,
		})
		d.closers = append(d.closers, client.Close)
		d.logger.Info(ctx, "using redis state",
			zap.String("addr", sc.Redis.Addr),
			zap.Int("db", sc.Redis.DB),
			logging.Secret("password", sc.Redis.Password))
		for _, scope := range scopes {
			stores[scope] = state.NewRedis(client, sc.Redis.KeyPrefix+":"+string(scope))
		}
	default:
		for _, scope := range scopes {
			stores[scope] = state.NewMemory(nil)
		}
	}
	return stores, nil
}

func (d *daemon) run(ctx context.Context) error {
	ctx = logging.WithLogger(ctx, d.logger)
	for _, f := range d.watched {
		err := f.Watch(ctx, func(items map[string]any) {
			if err := hostapi.SyncWebviewData(ctx, d.center, items); err != nil {
				logging.FromContext(ctx).Warn(ctx, "pushing webview data", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
	}

	if d.http != nil {
		go func() {
			if err := d.http.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.logger.Error(ctx, "http server failed", zap.Error(err))
			}
		}()
	}

	d.logger.Info(ctx, "webbridge serving",
		zap.String("transport", d.cfg.Transport.Kind),
		zap.String("codec", d.cfg.Transport.Codec),
		zap.String("state", d.cfg.State.Backend),
		zap.Int("commands", len(d.center.Responder().Channels())))

	if err := bridge.Serve(ctx, d.conn, d.center); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	d.logger.Info(ctx, "peer stream ended")
	return nil
}

func (d *daemon) shutdown(ctx context.Context) error {
	var errs []error
	if d.http != nil {
		if err := d.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := d.center.Close(); err != nil {
		errs = append(errs, err)
	}
	d.center.Responder().Wait()
	if err := d.tel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	d.logger.Info(ctx, "shutdown complete", zap.Duration("grace", d.cfg.Server.ShutdownTimeout.Duration()))
	errs = append(errs, d.closeAll())
	return errors.Join(errs...)
}

// natsURLField logs the server URL, hiding it entirely when it embeds
// credentials.
func natsURLField(raw string) zap.Field {
	if u, err := url.Parse(raw); err == nil && u.User != nil {
		return logging.RedactedString("nats_url", raw)
	}
	return zap.String("nats_url", raw)
}

// closeAll releases resources in reverse order of acquisition.
func (d *daemon) closeAll() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}
