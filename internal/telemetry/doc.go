// Package telemetry provides OpenTelemetry instrumentation for webbridge.
//
// # Overview
//
// Every correlated request opens a "bridge.call" span that ends when the
// request settles. This package builds the TracerProvider those spans go
// to and exports them over OTLP (gRPC or HTTP). Metrics are served by
// Prometheus, not OTLP.
//
// # Usage
//
//	cfg := telemetry.NewDefaultConfig()
//	tel, err := telemetry.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(ctx)
//
//	center := bridge.NewCenter(conn, bridge.WithTracer(tel.Tracer("webbridge")))
//
// # Configuration
//
//	telemetry:
//	  enabled: true
//	  endpoint: "localhost:4317"
//	  protocol: grpc
//	  sampling:
//	    rate: 1.0
//
// # Error Handling
//
// Exporter failures do not stop the bridge. The instance reports itself as
// degraded through Health and hands out no-op tracers.
package telemetry
