package node

import "errors"

var (
	ErrNotStarted  = errors.New("node: not started")
	ErrRequestGone = errors.New("node: request abandoned before a response arrived")
)
