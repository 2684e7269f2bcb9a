package scheduler

import (
	"fmt"
	"time"
)

// FallBehindError is returned by Run when a record is later than the allowed
// lag and the policy is abort. No delivery was attempted for the record.
type FallBehindError struct {
	Seq    int64         // emission sequence of the late record
	Offset int64         // dataset row of the late record
	Lag    time.Duration // how late the record was
	MaxLag time.Duration
}

func (e *FallBehindError) Error() string {
	return fmt.Sprintf("fell behind schedule at emission %d (row %d): lag %s exceeds %s",
		e.Seq, e.Offset, e.Lag, e.MaxLag)
}
