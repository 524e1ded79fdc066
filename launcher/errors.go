package launcher

import (
	"errors"
	"fmt"
)

// ErrHandshakeTimeout is returned when the emulator neither completed the IPC
// handshake nor produced log output within the handshake timeout.
var ErrHandshakeTimeout = errors.New("emulator did not become ready")

// Warning is a user-correctable launch precondition failure. No process is
// started and no running game is created.
type Warning struct {
	Message string
}

func (w *Warning) Error() string {
	return w.Message
}

func warningf(format string, args ...any) *Warning {
	return &Warning{Message: fmt.Sprintf(format, args...)}
}

// IsWarning reports whether err is, or wraps, a *Warning.
func IsWarning(err error) bool {
	var w *Warning
	return errors.As(err, &w)
}
