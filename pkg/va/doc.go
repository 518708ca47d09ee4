// Package va is the client-side controller for a virtual assistant dialog
// session layered on a speech engine.
//
// A [Controller] owns the session lifecycle (Closed → Opening → Opened →
// Closing → Closed) and the dialog sub-state (Idle/Active). Hosts call
// admission methods such as [Controller.Open], [Controller.SendText] or
// [Controller.UploadValues]; each returns immediately with nil or a *[Fault]
// whose [ResultCode] explains the rejection. Accepted requests are forwarded
// to an [Engine], whose asynchronous answers flow back through [Callbacks]
// and end up as ordered notifications on the registered [Observer].
//
// Outstanding requests are tracked by a [Tracker] that guarantees each one
// is resolved at most once. Close is a cancellation barrier: the active
// dialog and every pending operation are resolved with [Canceled] before the
// Closed notification is delivered.
//
// Engines live in sibling packages: pkg/engine/loopback runs the dialog
// server in-process, pkg/engine/wsengine talks to a remote server over
// WebSocket.
package va
