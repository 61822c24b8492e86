// Package api defines the contract between the conduit host and its
// pipes.
//
// A pipe is a unit of injected logic the host exposes as one or more
// selectable models. Every pipe implements the Pipe interface; a pipe
// that can list multiple models additionally implements Lister and is
// called a manifold. The host records which capabilities a pipe
// supports once, at registration time.
//
// Configuration flows one way. A pipe declares its options as a
// ValveSchema; the host resolves defaults, host configuration and
// persisted settings into an immutable Valves snapshot and hands it to
// Init before any invocation. During invocations the snapshot is
// read-only, so Process may be called concurrently on one instance.
//
// Failures the end user should see stay in-band: listing failures
// become a single sentinel ModelInfo entry, transport failures become a
// terminal result whose text begins with "Error:", and the host wraps
// every invocation in an Outcome that separates pipe-reported failures
// from crashes. None of them abort the host.
package api
