package pipeline

import (
	"log/slog"
	"math"
	"time"

	"github.com/fatura-ai/invoice-extractor/constants"
)

// Step records one tracked pipeline stage. Callers may attach Confidence and
// Provider inside the tracked function.
type Step struct {
	Name       string               `json:"name"`
	Status     constants.StepStatus `json:"status"`
	DurationMS float64              `json:"duration_ms,omitempty"`
	Confidence float32              `json:"confidence,omitempty"`
	Provider   string               `json:"provider,omitempty"`
	Error      string               `json:"error,omitempty"`

	startedAt time.Time
}

// Summary is the finalized view of a run, consumed only by the result
// record, never by pipeline control flow.
type Summary struct {
	PipelineID      string  `json:"pipeline_id"`
	TotalDurationMS float64 `json:"total_duration_ms"`
	Steps           []Step  `json:"steps"`
}

// Metrics tracks the ordered steps of one document run. It owns no other
// component's state and is purely observational.
type Metrics struct {
	pipelineID string
	startedAt  time.Time
	steps      []*Step
	logger     *slog.Logger
}

func NewMetrics(pipelineID string, logger *slog.Logger) *Metrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &Metrics{
		pipelineID: pipelineID,
		startedAt:  time.Now(),
		logger:     logger,
	}
}

// Track runs fn as a named step. A nil error stamps the step completed; an
// error stamps it failed, records the message, and is returned unchanged —
// observability never swallows failures.
func (m *Metrics) Track(name string, fn func(step *Step) error) error {
	step := &Step{
		Name:      name,
		Status:    constants.StepRunning,
		startedAt: time.Now(),
	}
	m.steps = append(m.steps, step)
	m.logger.Info("step started", "pipeline_id", m.pipelineID, "step", name)

	err := fn(step)
	step.DurationMS = round2(float64(time.Since(step.startedAt).Microseconds()) / 1000)
	if err != nil {
		step.Status = constants.StepFailed
		step.Error = err.Error()
		m.logger.Error("step failed",
			"pipeline_id", m.pipelineID, "step", name,
			"duration_ms", step.DurationMS, "error", err)
		return err
	}
	step.Status = constants.StepCompleted
	m.logger.Info("step done",
		"pipeline_id", m.pipelineID, "step", name, "duration_ms", step.DurationMS)
	return nil
}

// Summary returns total elapsed time and the ordered step list.
func (m *Metrics) Summary() Summary {
	var total float64
	steps := make([]Step, 0, len(m.steps))
	for _, s := range m.steps {
		total += s.DurationMS
		steps = append(steps, *s)
	}
	return Summary{
		PipelineID:      m.pipelineID,
		TotalDurationMS: round2(total),
		Steps:           steps,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
