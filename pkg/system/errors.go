package system

import "errors"

var (
	// ErrMismatchedType means a published or response value's descriptor
	// does not match the type the proxy is bound to. Rejected at the
	// boundary, never forwarded.
	ErrMismatchedType = errors.New("dynamic data does not match the bound type")

	// ErrUnknownType means a required type name has no descriptor in the
	// registry and the adapter cannot supply one natively.
	ErrUnknownType = errors.New("type not present in registry")

	// ErrNotConfigured means a proxy or subscription was requested before a
	// successful Configure.
	ErrNotConfigured = errors.New("system handle is not configured")

	// ErrNotLive means the adapter has terminally degraded.
	ErrNotLive = errors.New("system handle is no longer live")
)
