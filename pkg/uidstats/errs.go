package uidstats

import "errors"

// ErrDisabled indicates that the capability probe failed and Collect can
// not run until a successful Init.
var ErrDisabled = errors.New("uidstats: collector disabled")
