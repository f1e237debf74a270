package enums

import "fmt"

// JobStatus is the lifecycle state of a job. READY and FAILED are terminal.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusReady      JobStatus = "READY"
	JobStatusFailed     JobStatus = "FAILED"
)

var validJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusProcessing,
	JobStatusReady,
	JobStatusFailed,
}

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known JobStatus.
func (s JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusReady || s == JobStatusFailed
}

// ParseJobStatus converts raw input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, error) {
	for _, candidate := range validJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job status %q", value)
}

// JobType is the closed set of work types accepted at the boundary.
type JobType string

const (
	JobTypeRecaptchaV2          JobType = "RecaptchaV2Task"
	JobTypeRecaptchaV2Invisible JobType = "RecaptchaV2TaskInvisible"
	JobTypeRecaptchaV3          JobType = "RecaptchaV3Task"
	JobTypeHCaptcha             JobType = "HCaptchaTask"
)

var validJobTypes = []JobType{
	JobTypeRecaptchaV2,
	JobTypeRecaptchaV2Invisible,
	JobTypeRecaptchaV3,
	JobTypeHCaptcha,
}

func (t JobType) String() string {
	return string(t)
}

func (t JobType) IsValid() bool {
	for _, candidate := range validJobTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// JobStatuses returns every lifecycle state in declaration order.
func JobStatuses() []JobStatus {
	out := make([]JobStatus, len(validJobStatuses))
	copy(out, validJobStatuses)
	return out
}

// ParseJobType matches the exact type name. Unknown or suffixed values are rejected.
func ParseJobType(value string) (JobType, error) {
	for _, candidate := range validJobTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job type %q", value)
}

// JobTypes returns the accepted work types in declaration order.
func JobTypes() []JobType {
	out := make([]JobType, len(validJobTypes))
	copy(out, validJobTypes)
	return out
}

// OutcomeKind is what an execution worker reports back about a job.
type OutcomeKind string

const (
	OutcomeStarted   OutcomeKind = "started"
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
)

func (k OutcomeKind) IsValid() bool {
	switch k {
	case OutcomeStarted, OutcomeCompleted, OutcomeFailed:
		return true
	}
	return false
}

func ParseOutcomeKind(value string) (OutcomeKind, error) {
	kind := OutcomeKind(value)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid outcome kind %q", value)
	}
	return kind, nil
}
