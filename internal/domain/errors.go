package domain

import "errors"

// ErrBackendRejected marks errors carrying an operator-facing message from
// the console backend. The message half of the wrap is kept verbatim so any
// embedded OVH-Query-ID token survives.
var ErrBackendRejected = errors.New("backend rejected request")
