package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Priority of a todo.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Category is one tag from the fixed vocabulary.
type Category string

const (
	CategoryFollowUp      Category = "follow-up"
	CategoryReview        Category = "review"
	CategoryMeeting       Category = "meeting"
	CategoryFinance       Category = "finance"
	CategoryHR            Category = "hr"
	CategoryTechnical     Category = "technical"
	CategoryCommunication Category = "communication"
)

// Categories lists the allowed category vocabulary in display order.
var Categories = []Category{
	CategoryFollowUp, CategoryReview, CategoryMeeting, CategoryFinance,
	CategoryHR, CategoryTechnical, CategoryCommunication,
}

// IsValid reports whether c belongs to the vocabulary.
func (c Category) IsValid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// TodoType distinguishes explicit asks from inferred commitments.
type TodoType string

const (
	TodoExplicit TodoType = "explicit"
	TodoImplicit TodoType = "implicit"
)

// Status is the lifecycle state of a persisted todo.
type Status string

const (
	StatusOpen        Status = "Open"
	StatusInProgress  Status = "In Progress"
	StatusDone        Status = "Done"
	StatusNeedsReview Status = "Done?"
)

// IsOpen reports whether the status counts as still open.
func (s Status) IsOpen() bool {
	return s == StatusOpen || s == StatusInProgress
}

// DueDateLayout is the only accepted due date format.
const DueDateLayout = "2006-01-02"

// CandidateTodo is a todo proposed by extraction, before persistence.
type CandidateTodo struct {
	Task          string     `json:"task"`
	AssignedTo    string     `json:"assigned_to"`
	DueDate       string     `json:"due_date"`
	Priority      Priority   `json:"priority"`
	Category      []Category `json:"category"`
	Source        Source     `json:"source"`
	SourceID      int        `json:"source_id"`
	HasSourceID   bool       `json:"-"`
	SourceURL     string     `json:"source_url"`
	SourceContext string     `json:"source_context"`
	Confidence    float64    `json:"confidence"`
	Type          TodoType   `json:"type"`

	// Set by deduplication.
	DedupeHash      string  `json:"dedupe_hash,omitempty"`
	UpdateID        string  `json:"update_id,omitempty"`
	MergeConfidence float64 `json:"merge_confidence,omitempty"`
}

// IsDuplicate reports whether dedup matched this candidate to an existing todo.
// Duplicates must never be created.
func (c CandidateTodo) IsDuplicate() bool {
	return c.UpdateID != ""
}

// DedupeHash derives the stable identity of a todo from its task text and
// assignee: the first 16 hex chars of sha256(lower(task) + "|" + lower(assignee)).
func DedupeHash(task, assignee string) string {
	key := strings.ToLower(strings.TrimSpace(task)) + "|" + strings.ToLower(strings.TrimSpace(assignee))
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}

// PersistedTodo is a todo as stored in the persistent-notes store.
type PersistedTodo struct {
	ID            string     `json:"id"`
	URL           string     `json:"url,omitempty"`
	Task          string     `json:"task"`
	AssignedTo    string     `json:"assigned_to"`
	DueDate       string     `json:"due_date"`
	Priority      Priority   `json:"priority"`
	Category      []Category `json:"category"`
	Source        Source     `json:"source"`
	SourceURL     string     `json:"source_url"`
	Confidence    float64    `json:"confidence"`
	Type          TodoType   `json:"type"`
	DedupeHash    string     `json:"dedupe_hash"`
	Status        Status     `json:"status"`
	Completed     string     `json:"completed,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastEditedAt  time.Time  `json:"last_edited_time"`
	SourceContext string     `json:"-"`
}

// FromCandidate builds the record that will be created for a new candidate.
func FromCandidate(c CandidateTodo) PersistedTodo {
	hash := c.DedupeHash
	if hash == "" {
		hash = DedupeHash(c.Task, c.AssignedTo)
	}
	return PersistedTodo{
		Task:          c.Task,
		AssignedTo:    c.AssignedTo,
		DueDate:       c.DueDate,
		Priority:      c.Priority,
		Category:      c.Category,
		Source:        c.Source,
		SourceURL:     c.SourceURL,
		Confidence:    c.Confidence,
		Type:          c.Type,
		DedupeHash:    hash,
		Status:        StatusOpen,
		SourceContext: c.SourceContext,
	}
}

// IsOverdue reports whether the todo is open with a due date before today.
func (t PersistedTodo) IsOverdue(today time.Time) bool {
	if !t.Status.IsOpen() || t.DueDate == "" {
		return false
	}
	if _, err := time.Parse(DueDateLayout, t.DueDate); err != nil {
		return false
	}
	return t.DueDate < today.Format(DueDateLayout)
}

// CompletionSignal is evidence that an open todo has been finished.
type CompletionSignal struct {
	TodoID     string  `json:"todo_id"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence"`
}

// StatusFor maps the signal onto Done or Done? using the confidence threshold.
func (s CompletionSignal) StatusFor(threshold float64) Status {
	if s.Confidence >= threshold {
		return StatusDone
	}
	return StatusNeedsReview
}

// RunStats summarizes what one pipeline run did.
type RunStats struct {
	Created     int           `json:"created" bson:"created"`
	Skipped     int           `json:"skipped" bson:"skipped"`
	Completed   int           `json:"completed" bson:"completed"`
	NeedsReview int           `json:"needs_review" bson:"needsReview"`
	Collected   int           `json:"collected" bson:"collected"`
	Extracted   int           `json:"extracted" bson:"extracted"`
	Duration    time.Duration `json:"-" bson:"durationNs"`
}

// DurationSeconds is the run duration rounded to two decimals.
func (s RunStats) DurationSeconds() float64 {
	return float64(s.Duration.Round(10*time.Millisecond)) / float64(time.Second)
}
