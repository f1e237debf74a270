package jobs

import (
	"errors"

	"github.com/angelmondragon/solverpay-backend/pkg/enums"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job transition")
)

var transitions = map[enums.JobStatus][]enums.JobStatus{
	enums.JobStatusPending:    {enums.JobStatusProcessing, enums.JobStatusFailed},
	enums.JobStatusProcessing: {enums.JobStatusReady, enums.JobStatusFailed},
}

// CanTransition reports whether a job in from may move to to.
func CanTransition(from, to enums.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// sourcesFor lists every status from which to is reachable.
func sourcesFor(to enums.JobStatus) []enums.JobStatus {
	var out []enums.JobStatus
	for _, from := range enums.JobStatuses() {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}
