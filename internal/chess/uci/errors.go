package uci

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSpawn                 = errors.New("engine spawn failed")
	ErrHandshakeTimeout      = errors.New("engine handshake timeout")
	ErrEngineExited          = errors.New("engine exited")
	ErrSearchTimeout         = errors.New("engine search timeout")
	ErrSearchInFlight        = errors.New("engine search already in flight")
	ErrSessionClosed         = errors.New("engine session closed")
	ErrNoEngineAvailable     = errors.New("no engine available")
	ErrMalformedProtocolLine = errors.New("malformed protocol line")
)

// SpawnError reports that a source's transport could not be created.
type SpawnError struct {
	Source string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Source, e.Err)
}

func (e *SpawnError) Unwrap() []error { return []error{ErrSpawn, e.Err} }

// NoEngineError is returned by Loader.Load after every candidate failed.
type NoEngineError struct {
	Attempts []error
}

func (e *NoEngineError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrNoEngineAvailable.Error() + ": no candidates configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, err := range e.Attempts {
		parts = append(parts, err.Error())
	}
	return ErrNoEngineAvailable.Error() + ": " + strings.Join(parts, "; ")
}

func (e *NoEngineError) Unwrap() []error {
	return append([]error{ErrNoEngineAvailable}, e.Attempts...)
}
