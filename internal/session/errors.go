package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyActive means a start was attempted for a provider that already
// has a launching or streaming session and the caller did not ask to reuse
// it.
var ErrAlreadyActive = errors.New("interactive session already active for this provider")

// LaunchError means the browser context could not be acquired. Start calls
// surface it synchronously; the server never retries on its own.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("browser launch failed: %v", e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// OperatorMessage is the single line shown in place of the video stream.
// Launch failures can carry multi-page child process output; the operator
// gets the first line, the logs get the rest.
func (e *LaunchError) OperatorMessage() string {
	return FirstLine(e.Err.Error())
}

// FirstLine reduces an error message to its first non-empty line.
func FirstLine(msg string) string {
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return msg
}
