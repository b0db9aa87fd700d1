package paxos

import "errors"

var (
	ErrClosed           = errors.New("paxos: closed")
	ErrNoQuorum         = errors.New("paxos: no quorum")
	ErrDurabilityFailed = errors.New("paxos: durable write failed")
	ErrConfigMismatch   = errors.New("paxos: incompatible configuration or log files")
	ErrUnknownCommand   = errors.New("paxos: unknown command encoding")
	ErrWindowFull       = errors.New("paxos: proposal window full")
)
