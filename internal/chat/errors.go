package chat

import "errors"

// ErrMessageNotFound is returned by UpdateMessage for unknown ids.
var ErrMessageNotFound = errors.New("chat message not found")
