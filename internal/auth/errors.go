package auth

import "errors"

// ErrUnauthorized is the single failure the validator reports. Every
// rejected credential collapses to it so callers cannot tell apart the
// reasons; the detail goes to logs only.
var ErrUnauthorized = errors.New("auth: unauthorized")
