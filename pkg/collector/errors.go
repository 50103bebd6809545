package collector

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
)

var (
	// ErrParse marks malformed header or sample text, or a malformed binary payload.
	ErrParse = errors.New("parse failure")
	// ErrIO marks process, socket or HTTP failures.
	ErrIO = errors.New("io failure")
	// ErrValidation marks a decoded payload outside tolerance.
	ErrValidation = errors.New("validation failure")
	// ErrShutdownTimeout marks a subprocess that had to be killed.
	ErrShutdownTimeout = errors.New("shutdown timeout")
)

// Kind is the failure class used in logs and as a metric label.
type Kind string

const (
	KindUnknown    Kind = "unknown"
	KindParse      Kind = "parse"
	KindIO         Kind = "io"
	KindValidation Kind = "validation"
	KindShutdown   Kind = "shutdown"
)

// Classify maps an error onto a Kind. Sentinels win; bare OS, exec and network
// errors count as io.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrParse):
		return KindParse
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrShutdownTimeout):
		return KindShutdown
	case errors.Is(err, ErrIO):
		return KindIO
	case errors.Is(err, context.DeadlineExceeded):
		return KindIO
	}

	var (
		perr *os.PathError
		eerr *exec.ExitError
		nerr net.Error
	)
	if errors.As(err, &perr) || errors.As(err, &eerr) || errors.As(err, &nerr) {
		return KindIO
	}
	return KindUnknown
}
