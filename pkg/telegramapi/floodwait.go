package telegramapi

import (
	"errors"
	"fmt"
	"time"
)

// FloodWaitError is the platform rate-limit signal. Wait carries the exact
// duration the platform instructed the client to sleep before retrying.
type FloodWaitError struct {
	Wait time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.Wait)
}

// NewFloodWait builds a rate-limit signal for the given number of seconds.
func NewFloodWait(seconds int) *FloodWaitError {
	return &FloodWaitError{Wait: time.Duration(seconds) * time.Second}
}

// AsFloodWait extracts the instructed wait from an error chain.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}
