// Package inproc is the in-memory reference adapter. Its "middleware" is a
// Hub: an in-process fabric that native endpoints publish, subscribe, serve
// and call on, and that any number of adapters can attach to. Inbound
// traffic is queued on a bounded channel per adapter and delivered to router
// callbacks synchronously from SpinOnce; responses travel back through the
// adapter's correlation table from whatever goroutine resolves them.
//
// The adapter exists to exercise the full SystemHandle contract without any
// external transport, and is what the bridge's behavioral tests run on.
package inproc
