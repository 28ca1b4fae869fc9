// Package legal models the legal-compliance checklist: tasks made of steps,
// with a status that is always derived from the steps.
package legal

import (
	"github.com/bizgenie/bizgenie/internal/core"
)

// MaxTasks caps the task list after research results are merged in.
const MaxTasks = 20

// DefaultTitle is used for research results that carry no subject.
const DefaultTitle = "Legal analysis"

// Status of a task, derived from its steps
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Step is one checklist entry
type Step struct {
	Step     string `json:"step"`
	Action   string `json:"action,omitempty"`
	Citation string `json:"citation,omitempty"`
	Source   string `json:"source,omitempty"`
	Done     bool   `json:"done"`
}

// Risk pairs a risk with its mitigation
type Risk struct {
	Risk       string `json:"risk"`
	Mitigation string `json:"mitigation"`
}

// Task is a compliance task
type Task struct {
	ID          core.ID `json:"id"`
	Title       string  `json:"title"`
	Status      Status  `json:"status"`
	Description string  `json:"description"`
	Steps       []Step  `json:"steps"`
	Risks       []Risk  `json:"risks"`
}

// DeriveStatus computes the status for a set of steps: completed iff every
// step is done, pending iff none is, in_progress otherwise. No steps means
// pending.
func DeriveStatus(steps []Step) Status {
	done := 0
	for _, s := range steps {
		if s.Done {
			done++
		}
	}
	switch {
	case done == 0:
		return StatusPending
	case done == len(steps):
		return StatusCompleted
	default:
		return StatusInProgress
	}
}

// Normalize returns a copy of t with its status re-derived and nil slices
// replaced by empty ones.
func Normalize(t Task) Task {
	t = t.Clone()
	t.Status = DeriveStatus(t.Steps)
	return t
}

// NormalizeAll applies Normalize to every task.
func NormalizeAll(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = Normalize(t)
	}
	return out
}

// Clone deep-copies a task.
func (t Task) Clone() Task {
	steps := make([]Step, len(t.Steps))
	copy(steps, t.Steps)
	risks := make([]Risk, len(t.Risks))
	copy(risks, t.Risks)
	t.Steps = steps
	t.Risks = risks
	return t
}

// CloneAll deep-copies a task list.
func CloneAll(tasks []Task) []Task {
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// ToggleStep flips Done on every step named stepName and re-derives the
// status. The input is not modified.
func ToggleStep(t Task, stepName string) (Task, error) {
	out := t.Clone()
	matched := false
	for i := range out.Steps {
		if out.Steps[i].Step == stepName {
			out.Steps[i].Done = !out.Steps[i].Done
			matched = true
		}
	}
	if !matched {
		return t, core.ErrStepNotFound
	}
	out.Status = DeriveStatus(out.Steps)
	return out, nil
}

// Find returns the index of the task with the given id, or -1.
func Find(tasks []Task, id core.ID) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// Research is a normalised research result, ready to become a task.
type Research struct {
	Subject   string
	Summary   string
	Checklist []Step
	Risks     []Risk
}

// Empty reports whether the result carries nothing worth a task.
func (r Research) Empty() bool {
	return r.Subject == "" && r.Summary == "" && len(r.Checklist) == 0 && len(r.Risks) == 0
}

// FromResearch builds a new task with a fresh id.
func FromResearch(r Research) Task {
	title := r.Subject
	if title == "" {
		title = DefaultTitle
	}
	return Normalize(Task{
		ID:          core.NewID(),
		Title:       title,
		Description: r.Summary,
		Steps:       r.Checklist,
		Risks:       r.Risks,
	})
}

// Replace returns fresh as the new list, capped at MaxTasks.
func Replace(fresh []Task) []Task {
	return capped(CloneAll(fresh))
}

// Prepend puts fresh in front of existing, capped at MaxTasks.
func Prepend(existing, fresh []Task) []Task {
	out := make([]Task, 0, len(fresh)+len(existing))
	out = append(out, CloneAll(fresh)...)
	out = append(out, CloneAll(existing)...)
	return capped(out)
}

func capped(tasks []Task) []Task {
	if len(tasks) > MaxTasks {
		return tasks[:MaxTasks]
	}
	return tasks
}
