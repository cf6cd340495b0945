// Package grpcmw is the gRPC middleware adapter. It handles services only —
// a deliberately partial adapter that shows capability-based composition:
// the router discovers it cannot publish or subscribe and routes topics
// elsewhere.
//
// Provider proxies invoke remote unary methods over a shared ClientConn
// using dynamic messages; client proxies host a generic gRPC server whose
// unknown-service handler turns every inbound unary call into a correlated
// RequestCallback and parks the stream until the response arrives. Unlike
// the polling adapters, inbound requests surface from gRPC's own transport
// goroutines and are queued for delivery from SpinOnce, while responses may
// resolve from any goroutine.
package grpcmw
