package registry

import "errors"

// ErrNotConnected is returned by SendTo when the handle has no live
// connection (already disconnected, or never existed).
var ErrNotConnected = errors.New("registry: connection not found")
