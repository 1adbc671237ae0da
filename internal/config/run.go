package config

import (
	"strings"
	"time"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// Identity describes whose todos a run collects.
type Identity struct {
	names         []string
	rawNames      string
	email         string
	slackUsername string
}

// NewIdentity builds an identity from a comma-separated list of name variants.
func NewIdentity(names, email, slackUsername string) Identity {
	return Identity{
		names:         models.SplitNames(names),
		rawNames:      strings.TrimSpace(names),
		email:         strings.TrimSpace(email),
		slackUsername: strings.TrimPrefix(strings.TrimSpace(slackUsername), "@"),
	}
}

// Names returns the lower-cased name variants.
func (i Identity) Names() []string {
	return append([]string(nil), i.names...)
}

// RawNames returns the name variants as configured.
func (i Identity) RawNames() string { return i.rawNames }

// PrimaryName is the first configured variant with its original casing.
func (i Identity) PrimaryName() string {
	first, _, _ := strings.Cut(i.rawNames, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return "the user"
}

// Email returns the user's email address, if known.
func (i Identity) Email() string { return i.email }

// SlackUsername returns the Slack handle without the leading @. Falls back to
// the primary name.
func (i Identity) SlackUsername() string {
	if i.slackUsername != "" {
		return i.slackUsername
	}
	return i.PrimaryName()
}

// Features toggles optional extraction behaviour.
type Features struct {
	PriorityScoring      bool
	CategoryTagging      bool
	DueDateInference     bool
	HighPriorityKeywords string
}

// Limits caps how much each collector may fetch.
type Limits struct {
	SearchPages     int
	ThreadProbes    int
	GmailMaxResults int
}

// RunConfig is the immutable configuration of one pipeline run. It is built
// once and passed by value to every component; nothing reads the environment
// after it exists.
type RunConfig struct {
	identity            Identity
	now                 time.Time
	lookbackDays        int
	maxTodoAgeDays      int
	completionThreshold float64
	gmailQuery          string
	meetingSenders      []string
	features            Features
	limits              Limits
}

// RunOption adjusts a RunConfig while it is being built.
type RunOption func(*RunConfig)

// WithLookbackDays overrides the collection window.
func WithLookbackDays(days int) RunOption {
	return func(rc *RunConfig) {
		if days > 0 {
			rc.lookbackDays = days
		}
	}
}

// WithGmailQuery overrides the Gmail search query.
func WithGmailQuery(q string) RunOption {
	return func(rc *RunConfig) { rc.gmailQuery = q }
}

// WithMaxTodoAgeDays overrides the recency filter horizon. Zero disables it.
func WithMaxTodoAgeDays(days int) RunOption {
	return func(rc *RunConfig) { rc.maxTodoAgeDays = days }
}

// WithCompletionThreshold overrides the Done / Done? cut-off.
func WithCompletionThreshold(threshold float64) RunOption {
	return func(rc *RunConfig) { rc.completionThreshold = threshold }
}

// WithFeatures overrides the feature flags.
func WithFeatures(f Features) RunOption {
	return func(rc *RunConfig) { rc.features = f }
}

// WithLimits overrides the per-source caps.
func WithLimits(l Limits) RunOption {
	return func(rc *RunConfig) { rc.limits = l }
}

// WithMeetingSenders overrides the senders whose mail counts as meeting content.
func WithMeetingSenders(senders []string) RunOption {
	return func(rc *RunConfig) {
		rc.meetingSenders = nil
		for _, s := range senders {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				rc.meetingSenders = append(rc.meetingSenders, s)
			}
		}
	}
}

// NewRunConfig returns a RunConfig with the defaults used by the aggregator.
func NewRunConfig(identity Identity, now time.Time, opts ...RunOption) RunConfig {
	rc := RunConfig{
		identity:            identity,
		now:                 now,
		lookbackDays:        1,
		maxTodoAgeDays:      7,
		completionThreshold: 0.85,
		meetingSenders:      []string{"meetings-noreply@zoom.us", "no-reply@zoom.us", "noreply@zoom.us"},
		features: Features{
			PriorityScoring:      true,
			CategoryTagging:      true,
			DueDateInference:     true,
			HighPriorityKeywords: "urgent,asap,critical,eod,today,immediately",
		},
		limits: Limits{SearchPages: 10, ThreadProbes: 20, GmailMaxResults: 50},
	}
	for _, opt := range opts {
		opt(&rc)
	}
	return rc
}

// RunConfigFor derives a run configuration from the server configuration.
func (c *Config) RunConfigFor(identity Identity, now time.Time, opts ...RunOption) RunConfig {
	base := []RunOption{
		WithLookbackDays(c.LookbackDays),
		WithMaxTodoAgeDays(c.MaxTodoAgeDays),
		WithCompletionThreshold(c.CompletionThreshold),
		WithGmailQuery(c.GmailQuery),
		WithMeetingSenders(c.MeetingSenders),
		WithFeatures(Features{
			PriorityScoring:      c.EnablePriorityScoring,
			CategoryTagging:      c.EnableCategoryTagging,
			DueDateInference:     c.EnableDueDateInference,
			HighPriorityKeywords: c.HighPriorityKeywords,
		}),
		WithLimits(Limits{
			SearchPages:     c.SearchPageLimit,
			ThreadProbes:    c.ThreadProbeLimit,
			GmailMaxResults: c.GmailMaxResults,
		}),
	}
	return NewRunConfig(identity, now, append(base, opts...)...)
}

func (rc RunConfig) Identity() Identity           { return rc.identity }
func (rc RunConfig) Now() time.Time               { return rc.now }
func (rc RunConfig) LookbackDays() int            { return rc.lookbackDays }
func (rc RunConfig) MaxTodoAgeDays() int          { return rc.maxTodoAgeDays }
func (rc RunConfig) CompletionThreshold() float64 { return rc.completionThreshold }
func (rc RunConfig) GmailQuery() string           { return rc.gmailQuery }
func (rc RunConfig) Features() Features           { return rc.features }
func (rc RunConfig) Limits() Limits               { return rc.limits }

// MeetingSenders returns a copy of the meeting sender list.
func (rc RunConfig) MeetingSenders() []string {
	return append([]string(nil), rc.meetingSenders...)
}

// Cutoff is the start of the collection window.
func (rc RunConfig) Cutoff() time.Time {
	return rc.now.Add(-time.Duration(rc.lookbackDays) * 24 * time.Hour)
}

// Today is the run date in YYYY-MM-DD form.
func (rc RunConfig) Today() string {
	return rc.now.Format(models.DueDateLayout)
}
