package serviceerr

import "errors"

var ErrNotFound = errors.New("not found")
var ErrMalformedRecord = errors.New("malformed stored record")
var ErrInvalidHandle = errors.New("invalid handle")

// ErrAuthenticationFailed is the generic surfacing for every handshake and
// exchange failure at callback time. Expired, missing and replayed nonces
// deliberately collapse into this one error so that callers cannot tell
// them apart.
var ErrAuthenticationFailed = errors.New("authentication failed")
