package queue

import (
	"errors"
	"fmt"
	"time"
)

// Deferral is returned by a handler that cannot run the job yet. The worker
// parks the job in the schedule until Until without spending a retry.
type Deferral struct {
	Until  time.Time
	Reason string
}

func (d *Deferral) Error() string {
	return fmt.Sprintf("deferred until %s: %s", d.Until.UTC().Format(time.RFC3339), d.Reason)
}

// Defer builds the error a handler returns to postpone its job.
func Defer(until time.Time, reason string) error {
	return &Deferral{Until: until, Reason: reason}
}

// AsDeferral extracts a Deferral from an error chain.
func AsDeferral(err error) (*Deferral, bool) {
	var d *Deferral
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
