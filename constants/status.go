package constants

// JobStatus is the canonical status for a queued extraction job.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusQueued    JobStatus = "QUEUED"    // waiting for a worker
	JobStatusRunning   JobStatus = "RUNNING"   // in progress
	JobStatusCompleted JobStatus = "COMPLETED" // pipeline produced a result record
	JobStatusFailed    JobStatus = "FAILED"    // terminal failure
)

// ResultStatus is the status carried by a pipeline result record.
type ResultStatus string

const (
	ResultOK    ResultStatus = "ok"
	ResultError ResultStatus = "error"
)

// StepStatus is the lifecycle of a tracked pipeline step.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Quality is the verdict of the OCR quality gate.
type Quality string

const (
	QualityGood Quality = "good"
	QualityPoor Quality = "poor"
)

// Issue codes reported by the quality gate. Stable strings: they key the
// retry-parameter table and end up in persisted assessments.
const (
	IssueEmptyText        = "empty_text"
	IssueTextTooShort     = "text_too_short"
	IssueNoNumbers        = "no_numbers"
	IssueExcessiveSpecial = "excessive_special_chars"
	IssueLowConfidence    = "low_confidence"
	IssueAssessmentFailed = "assessment_failed"
)
