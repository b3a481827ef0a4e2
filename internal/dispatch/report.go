package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Status is the outcome of one check in a run.
type Status string

const (
	StatusPassed     Status = "passed"
	StatusNotified   Status = "notified"
	StatusSuppressed Status = "suppressed"
	StatusErrored    Status = "errored" // the check failed and the notify sequence failed too
	StatusSkipped    Status = "skipped" // the run was cancelled first
)

type (
	// Result describes one check execution.
	Result struct {
		Check    string        `json:"check"`
		Status   Status        `json:"status"`
		Kind     string        `json:"kind,omitempty"`
		Detail   string        `json:"detail,omitempty"`
		Error    string        `json:"error,omitempty"`
		Duration time.Duration `json:"duration_ns"` //nolint: tagliatelle
	}

	// Report summarizes one RunAll.
	Report struct {
		RunID      uuid.UUID `json:"run_id"`      //nolint: tagliatelle
		StartedAt  time.Time `json:"started_at"`  //nolint: tagliatelle
		FinishedAt time.Time `json:"finished_at"` //nolint: tagliatelle
		Checked    int       `json:"checked"`
		Passed     int       `json:"passed"`
		Failed     int       `json:"failed"`
		Notified   int       `json:"notified"`
		Suppressed int       `json:"suppressed"`
		Errored    int       `json:"errored"`
		Skipped    int       `json:"skipped"`
		Results    []Result  `json:"results"`
	}
)

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)

	if res.Status == StatusSkipped {
		r.Skipped++

		return
	}

	r.Checked++

	switch res.Status {
	case StatusPassed:
		r.Passed++
	case StatusNotified:
		r.Failed++
		r.Notified++
	case StatusSuppressed:
		r.Failed++
		r.Suppressed++
	case StatusErrored:
		r.Failed++
		r.Errored++
	case StatusSkipped:
	}
}

// HasErrors reports whether any failure could not be recorded or delivered.
func (r *Report) HasErrors() bool {
	return r.Errored > 0
}
