package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// TaskMarker prefixes the prompt of every scheduler-triggered invocation so
// the coordinator can tell it apart from a user message.
const TaskMarker = "[SCHEDULED TASK]"

// Task is a persisted recurring prompt.
type Task struct {
	// ID is the unique task identifier.
	ID string `json:"id"`

	// GroupID is the conversation the prompt is injected into.
	GroupID string `json:"group_id"`

	// Schedule is a standard 5-field cron expression or a descriptor
	// (@daily, @hourly, @every 30m).
	Schedule string `json:"schedule"`

	// Prompt is the text handed to the assistant when the task fires.
	Prompt string `json:"prompt"`

	Enabled   bool      `json:"enabled"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// LastRunAt is when the task last fired; nil if it never did.
	LastRunAt *time.Time `json:"last_run_at,omitempty"`

	// LastError records why the last tick could not evaluate the task.
	LastError string `json:"last_error,omitempty"`

	RunCount int `json:"run_count"`
}

var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseSchedule validates a schedule expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", expr, err)
	}
	return sched, nil
}

// NewTask builds an enabled task with a fresh ID after validating its
// schedule.
func NewTask(groupID, schedule, prompt, createdBy string) (*Task, error) {
	if groupID == "" {
		return nil, fmt.Errorf("group is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt is required")
	}
	if _, err := ParseSchedule(schedule); err != nil {
		return nil, err
	}
	return &Task{
		ID:        uuid.NewString(),
		GroupID:   groupID,
		Schedule:  strings.TrimSpace(schedule),
		Prompt:    prompt,
		Enabled:   true,
		CreatedBy: createdBy,
		CreatedAt: time.Now(),
	}, nil
}

// Due reports whether the task has an occurrence at or before now that has
// not fired yet. Missed occurrences collapse into one.
//
// Schedules are evaluated in now's location (the scheduler clock runs in
// local time), whatever zone the stored timestamps carry. A schedule can pin
// its own zone with a CRON_TZ= prefix, e.g. "CRON_TZ=Europe/Berlin 0 9 * * *".
func (t *Task) Due(sched cron.Schedule, now time.Time) bool {
	anchor := t.CreatedAt
	if t.LastRunAt != nil {
		anchor = *t.LastRunAt
	}
	next := sched.Next(anchor.In(now.Location()))
	return !next.IsZero() && !next.After(now)
}

// WrapPrompt prefixes prompt with TaskMarker unless it already carries it.
func WrapPrompt(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if strings.HasPrefix(prompt, TaskMarker) {
		return prompt
	}
	return TaskMarker + " " + prompt
}

// IsScheduled reports whether content came from a scheduled task.
func IsScheduled(content string) bool {
	return strings.HasPrefix(strings.TrimSpace(content), TaskMarker)
}
