package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrClientNotRecognized: o hub rejeitou o client id. Fatal para a sync.
	ErrClientNotRecognized = errors.New("client id not recognized by hub")

	ErrInvalidConfig = errors.New("invalid telemetry configuration")
)

// TransportError é uma falha transitória (timeout, conexão, status != 2xx).
// StatusCode é 0 quando não houve resposta.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
