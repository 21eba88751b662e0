package event

import "errors"

// ErrUnknownKind indicates an interaction kind outside the known set.
var ErrUnknownKind = errors.New("unknown interaction kind")
