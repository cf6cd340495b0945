// Package types holds the dynamic type layer of the bridge: a shared
// registry mapping qualified type names to runtime protobuf descriptors, the
// type-erased Data value that flows through every proxy and callback, and a
// protocompile-based loader that turns .proto schema sources into registered
// descriptors.
//
// Type identity across the whole bridge is established purely by descriptor
// full-name equality. A topic or service is bound to exactly one named type
// for its entire lifetime; nothing in this package or its consumers infers
// types structurally.
package types
