// Package async provides guarded goroutine helpers for adapter-internal
// dispatch work. A transport callback that panics must never take the whole
// bridge down with it.
package async
