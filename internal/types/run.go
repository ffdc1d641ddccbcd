package types

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

type RunStatus string

const (
	RunStatusPending        RunStatus = "PENDING"
	RunStatusPlanned        RunStatus = "PLANNED"
	RunStatusAwaitingReview RunStatus = "AWAITING_REVIEW"
	RunStatusRunning        RunStatus = "RUNNING"
	RunStatusSucceeded      RunStatus = "SUCCEEDED"
	RunStatusFailed         RunStatus = "FAILED"
	RunStatusCancelled      RunStatus = "CANCELLED"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusPlanned, RunStatusAwaitingReview, RunStatusRunning,
		RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transitions are expected for the run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

type StepStatus string

const (
	StepStatusQueued    StepStatus = "QUEUED"
	StepStatusRunning   StepStatus = "RUNNING"
	StepStatusSucceeded StepStatus = "SUCCEEDED"
	StepStatusFailed    StepStatus = "FAILED"
	StepStatusSkipped   StepStatus = "SKIPPED"
)

type Step struct {
	ID         int64      `json:"id" yaml:"id"`
	StepNo     int        `json:"step_no" yaml:"step_no"`
	Type       string     `json:"type" yaml:"type"`
	Command    string     `json:"command" yaml:"command"`
	Status     StepStatus `json:"status" yaml:"status"`
	ExitCode   *int       `json:"exit_code" yaml:"exit_code"`
	StartedAt  *time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt *time.Time `json:"finished_at" yaml:"finished_at"`
	StdoutPath *string    `json:"stdout_path,omitempty" yaml:"stdout_path,omitempty"`
	StderrPath *string    `json:"stderr_path,omitempty" yaml:"stderr_path,omitempty"`
}

type Artifact struct {
	ID        int64     `json:"id" yaml:"id"`
	Kind      string    `json:"kind" yaml:"kind"`
	Path      string    `json:"path" yaml:"path"`
	SHA256    string    `json:"sha256" yaml:"sha256"`
	Size      int64     `json:"size" yaml:"size"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

type Audit struct {
	ID        int64          `json:"id" yaml:"id"`
	Actor     string         `json:"actor" yaml:"actor"`
	Action    string         `json:"action" yaml:"action"`
	Payload   map[string]any `json:"payload_json,omitempty" yaml:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at"`
}

// RunDetail is a full-state read of a run.
type RunDetail struct {
	ID            int64          `json:"id" yaml:"id"`
	ProjectID     int64          `json:"project_id,omitempty" yaml:"project_id,omitempty"`
	PlanID        *int64         `json:"plan_id,omitempty" yaml:"plan_id,omitempty"`
	Status        RunStatus      `json:"status" yaml:"status"`
	RiskLevel     string         `json:"risk_level,omitempty" yaml:"risk_level,omitempty"`
	StartedAt     *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	FinishedAt    *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	SandboxMeta   map[string]any `json:"sandbox_meta,omitempty" yaml:"sandbox_meta,omitempty"`
	Steps         []Step         `json:"steps" yaml:"steps"`
	Audits        []Audit        `json:"audits" yaml:"audits"`
	Artifacts     []Artifact     `json:"artifacts" yaml:"artifacts"`
	ReportContent *string        `json:"report_content" yaml:"report_content,omitempty"`
	DiffContent   *string        `json:"diff_content" yaml:"diff_content,omitempty"`
	AuditContent  *string        `json:"audit_content" yaml:"audit_content,omitempty"`
}

var ErrInvalidRunStatus = errors.New("invalid run status")

// Normalize orders steps by step number and rejects snapshots that break the
// run invariants: a known status and unique step numbers.
func (r *RunDetail) Normalize() error {
	if r == nil {
		return errors.New("run detail is nil")
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRunStatus, r.Status)
	}
	sort.SliceStable(r.Steps, func(i, j int) bool {
		return r.Steps[i].StepNo < r.Steps[j].StepNo
	})
	for i := 1; i < len(r.Steps); i++ {
		if r.Steps[i].StepNo == r.Steps[i-1].StepNo {
			return fmt.Errorf("duplicate step number %d", r.Steps[i].StepNo)
		}
	}
	return nil
}

func (r *RunDetail) ArtifactsOfKind(kind string) []Artifact {
	if r == nil {
		return nil
	}
	var out []Artifact
	for _, artifact := range r.Artifacts {
		if artifact.Kind == kind {
			out = append(out, artifact)
		}
	}
	return out
}

type RunActionResponse struct {
	RunID  int64     `json:"run_id"`
	Status RunStatus `json:"status"`
}
