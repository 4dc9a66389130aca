// Package bridge layers request/reply semantics on top of a one-way,
// order-preserving message primitive.
//
// # Overview
//
// Two peers that can only post messages at each other (an extension host and a
// sandboxed webview, a parent process and a child over stdio, two services on a
// NATS subject pair) each own a Center. The Center:
//   - assigns per-request sequence ids and tracks pending requests,
//   - matches inbound envelopes to pending requests or subscriptions,
//   - answers inbound requests from its registered commands (the Responder).
//
// # Usage
//
// Wire a Center to a transport and pump inbound envelopes into it:
//
//	a, b := memory.Pipe()
//	host := bridge.NewCenter(a)
//	host.Handle("add", bridge.Handle(func(ctx context.Context, in AddArgs) (int, error) {
//	    return in.A + in.B, nil
//	}))
//	go bridge.Serve(ctx, a, host)
//
//	view := bridge.NewCenter(b)
//	go bridge.Serve(ctx, b, view)
//
//	sum, err := bridge.Invoke[int](ctx, view, "add", AddArgs{A: 2, B: 3})
//
// # Failures
//
// Transport errors, timeouts and remote command failures never surface as a
// stuck future: the future settles with an envelope whose Extra carries
// status=0 and a description. Envelope.Failure reports it; Invoke converts it
// into a *FailureError.
//
// # Concurrency Safety
//
// Center and Responder are safe for concurrent use. Handlers and resolvers run
// outside the Center's lock, so they may call back into the Center.
package bridge
