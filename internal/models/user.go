package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Run outcome values recorded on a user and in run history.
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusSkipped = "skipped"
)

// User is a registered person whose todos are aggregated.
// Platform tokens are stored encrypted; see crypto.EncryptionService.
type User struct {
	ID                 primitive.ObjectID `bson:"_id,omitempty" json:"id" yaml:"-"`
	Key                string             `bson:"key" json:"key" yaml:"key"`
	Name               string             `bson:"name" json:"name" yaml:"name"`
	Email              string             `bson:"email" json:"email" yaml:"email"`
	SlackUsername      string             `bson:"slackUsername,omitempty" json:"slackUsername,omitempty" yaml:"slack_username"`
	NotionDatabaseID   string             `bson:"notionDatabaseId" json:"notionDatabaseId" yaml:"notion_database_id"`
	NotionMeetingsDBID string             `bson:"notionMeetingsDbId,omitempty" json:"notionMeetingsDbId,omitempty" yaml:"notion_meetings_db_id"`
	Enabled            bool               `bson:"enabled" json:"enabled" yaml:"enabled"`

	// Encrypted at rest in MongoDB; plain text in the users file.
	SlackToken        string `bson:"slackToken,omitempty" json:"-" yaml:"slack_token"`
	GmailRefreshToken string `bson:"gmailRefreshToken,omitempty" json:"-" yaml:"gmail_refresh_token"`
	PersonalToken     string `bson:"personalToken,omitempty" json:"-" yaml:"personal_token"`

	LastRunAt     *time.Time `bson:"lastRunAt,omitempty" json:"lastRunAt,omitempty" yaml:"-"`
	LastRunStatus string     `bson:"lastRunStatus,omitempty" json:"lastRunStatus,omitempty" yaml:"-"`
	LastRunError  string     `bson:"lastRunError,omitempty" json:"lastRunError,omitempty" yaml:"-"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt" yaml:"-"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt" yaml:"-"`
}

// NameVariants splits the comma-separated name field into lower-cased variants.
func (u *User) NameVariants() []string {
	return SplitNames(u.Name)
}

// SplitNames splits a comma-separated list of names into trimmed, lower-cased,
// non-empty variants.
func SplitNames(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CreateUserRequest is the body of POST /api/users.
type CreateUserRequest struct {
	Key                string `json:"key"`
	Name               string `json:"name"`
	Email              string `json:"email"`
	SlackUsername      string `json:"slackUsername,omitempty"`
	NotionDatabaseID   string `json:"notionDatabaseId"`
	NotionMeetingsDBID string `json:"notionMeetingsDbId,omitempty"`
	SlackToken         string `json:"slackToken,omitempty"`
	GmailRefreshToken  string `json:"gmailRefreshToken,omitempty"`
	Enabled            *bool  `json:"enabled,omitempty"`
}

// RunRecord is one entry of run history.
type RunRecord struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RunID      string             `bson:"runId" json:"runId"`
	UserKey    string             `bson:"userKey" json:"userKey"`
	Trigger    string             `bson:"trigger" json:"trigger"`
	Status     string             `bson:"status" json:"status"`
	Error      string             `bson:"error,omitempty" json:"error,omitempty"`
	FailedAt   string             `bson:"failedPhase,omitempty" json:"failedPhase,omitempty"`
	Stats      RunStats           `bson:"stats" json:"stats"`
	StartedAt  time.Time          `bson:"startedAt" json:"startedAt"`
	FinishedAt time.Time          `bson:"finishedAt" json:"finishedAt"`
}
