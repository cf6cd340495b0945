// Package bridge is the router core. It loads the bridge configuration,
// compiles the declared schema files into the shared type registry,
// instantiates and configures one adapter per declared system, wires topic
// and service routes between them, and runs the polling loop that gives
// every adapter its SpinOnce slice.
//
// The bridge itself never touches a transport: all middleware specifics
// live behind the capability interfaces in pkg/system. Routing a topic is
// subscribing on the source adapter and fanning each message out to
// publisher proxies on the destination adapters; routing a service is
// pointing client proxies on the caller-side adapters at a provider proxy
// on the serving adapter.
package bridge
