package syncer

import (
	"fmt"
	"math"
	"time"

	"github.com/sakif/adprofit/internal/apperror"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusPartial   = "partial" // finished with item errors
	StatusFailed    = "failed"
)

// Counts tallies the outcome of one entity kind within a run.
type Counts struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

func (c *Counts) add(created bool) {
	if created {
		c.Created++
	} else {
		c.Updated++
	}
}

// ItemError is one failed lookup or write that did not abort the run. Kind
// is set for taxonomy errors; RetryAfterSeconds accompanies rate limits.
type ItemError struct {
	Entity            string `json:"entity"`
	ID                string `json:"id,omitempty"`
	Message           string `json:"message"`
	Kind              string `json:"kind,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}

// Truncation is a listing the page cap cut short. Next is the provider
// cursor a follow-up invocation resumes from.
type Truncation struct {
	Provider string `json:"provider"`
	Resource string `json:"resource"`
	Scope    string `json:"scope"`
	Next     string `json:"next"`
}

// Result is the aggregate outcome of a sync run. Partial failures and
// clamped values are reported here, never as the run's error.
type Result struct {
	From     string `json:"from"`
	To       string `json:"to"`
	FXSource string `json:"fxSource"`

	Products   Counts       `json:"products"`
	Records    Counts       `json:"records"`
	StoreDays  int          `json:"storeDays"`
	Campaigns  int          `json:"campaigns"`
	Enriched   int          `json:"enriched"`
	Decisions  int          `json:"decisions"`
	AdAccounts []string     `json:"adAccounts"`
	Truncated  []Truncation `json:"truncated,omitempty"`

	Warnings []string    `json:"warnings,omitempty"`
	Errors   []ItemError `json:"errors,omitempty"`
}

// Errored is the number of item-level failures across all entities.
func (r *Result) Errored() int { return len(r.Errors) }

// Status is StatusPartial when any item failed, otherwise StatusCompleted.
func (r *Result) Status() string {
	if r.Errored() > 0 {
		return StatusPartial
	}
	return StatusCompleted
}

func (r *Result) fail(entity, id string, err error) {
	kind, retry := classify(err)
	r.Errors = append(r.Errors, ItemError{
		Entity:            entity,
		ID:                id,
		Message:           err.Error(),
		Kind:              kind,
		RetryAfterSeconds: retry,
	})
}

// classify returns the taxonomy kind of err and, for rate limits, the retry
// hint in whole seconds rounded up.
func classify(err error) (string, int) {
	kind := apperror.Kind(err)
	if d, ok := apperror.RetryAfter(err); ok && d > 0 {
		return kind, int(math.Ceil(d.Seconds()))
	}
	return kind, 0
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Result) merge(o *Result) {
	r.AdAccounts = append(r.AdAccounts, o.AdAccounts...)
	r.Truncated = append(r.Truncated, o.Truncated...)
	r.Warnings = append(r.Warnings, o.Warnings...)
	r.Errors = append(r.Errors, o.Errors...)
}

// Run is the polled status of one background sync.
type Run struct {
	ID         string     `json:"runId"`
	UserID     string     `json:"userId"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Result     *Result    `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
	// ErrorKind and RetryAfterSeconds describe a failed run so the caller can
	// tell a refused token from throttling and reschedule accordingly.
	ErrorKind         string `json:"errorKind,omitempty"`
	RetryAfterSeconds int    `json:"retryAfterSeconds,omitempty"`
}
