package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// ErrMissingCredential is returned by Validate when a required credential is absent.
var ErrMissingCredential = errors.New("missing required credential")

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	APISecret   string

	// Language model
	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string
	ModelRPS         float64

	// Notion
	NotionAPIKey             string
	NotionDatabaseID         string
	NotionMeetingsDatabaseID string
	NotionBaseURL            string

	// Slack
	SlackUserToken string
	SlackBaseURL   string

	// Gmail
	GmailClientID     string
	GmailClientSecret string
	GmailRefreshToken string
	GmailQuery        string
	GmailBaseURL      string
	GmailTokenURL     string

	// Zoom (server-to-server OAuth)
	ZoomAccountID    string
	ZoomClientID     string
	ZoomClientSecret string
	ZoomBaseURL      string
	ZoomTokenURL     string

	// Identity for single-user runs
	MyName          string // comma-separated name variants
	MyEmail         string
	MySlackUsername string

	// Run behaviour
	LookbackDays        int
	MaxTodoAgeDays      int
	CompletionThreshold float64
	MeetingSenders      []string
	SearchPageLimit     int
	ThreadProbeLimit    int
	GmailMaxResults     int
	MaxRetries          int

	// Feature flags
	EnablePriorityScoring  bool
	EnableCategoryTagging  bool
	EnableDueDateInference bool
	HighPriorityKeywords   string

	// Infrastructure
	MongoURI            string
	MongoDatabase       string
	RedisURL            string
	EncryptionMasterKey string
	UsersFile           string
	BatchCron           string
	BatchTimezone       string

	// SMTP notifications
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		APISecret:   getEnv("API_SECRET", ""),

		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-opus-4-20250514"),
		AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
		ModelRPS:         getFloatEnv("MODEL_RPS", 1),

		NotionAPIKey:             getEnv("NOTION_API_KEY", ""),
		NotionDatabaseID:         getEnv("NOTION_DATABASE_ID", ""),
		NotionMeetingsDatabaseID: getEnv("NOTION_MEETINGS_DB_ID", ""),
		NotionBaseURL:            getEnv("NOTION_BASE_URL", "https://api.notion.com/v1"),

		SlackUserToken: getEnv("SLACK_USER_TOKEN", getEnv("SLACK_BOT_TOKEN", "")),
		SlackBaseURL:   getEnv("SLACK_BASE_URL", "https://slack.com/api"),

		GmailClientID:     getEnv("GMAIL_CLIENT_ID", ""),
		GmailClientSecret: getEnv("GMAIL_CLIENT_SECRET", ""),
		GmailRefreshToken: getEnv("GMAIL_REFRESH_TOKEN", ""),
		GmailQuery:        getEnv("GMAIL_QUERY", ""),
		GmailBaseURL:      getEnv("GMAIL_BASE_URL", "https://gmail.googleapis.com"),
		GmailTokenURL:     getEnv("GMAIL_TOKEN_URL", "https://oauth2.googleapis.com/token"),

		ZoomAccountID:    getEnv("ZOOM_ACCOUNT_ID", ""),
		ZoomClientID:     getEnv("ZOOM_CLIENT_ID", ""),
		ZoomClientSecret: getEnv("ZOOM_CLIENT_SECRET", ""),
		ZoomBaseURL:      getEnv("ZOOM_BASE_URL", "https://api.zoom.us/v2"),
		ZoomTokenURL:     getEnv("ZOOM_TOKEN_URL", "https://zoom.us/oauth/token"),

		MyName:          getEnv("MY_NAME", ""),
		MyEmail:         getEnv("MY_EMAIL", ""),
		MySlackUsername: getEnv("MY_SLACK_USERNAME", ""),

		LookbackDays:        getIntEnv("LOOKBACK_DAYS", 1),
		MaxTodoAgeDays:      getIntEnv("MAX_TODO_AGE_DAYS", 7),
		CompletionThreshold: getFloatEnv("COMPLETION_THRESHOLD", 0.85),
		MeetingSenders:      getListEnv("MEETING_EMAIL_SENDERS", "meetings-noreply@zoom.us,no-reply@zoom.us,noreply@zoom.us"),
		SearchPageLimit:     getIntEnv("SLACK_SEARCH_PAGE_LIMIT", 10),
		ThreadProbeLimit:    getIntEnv("SLACK_THREAD_PROBE_LIMIT", 20),
		GmailMaxResults:     getIntEnv("GMAIL_MAX_RESULTS", 50),
		MaxRetries:          getIntEnv("MAX_RETRIES", 4),

		EnablePriorityScoring:  getBoolEnv("ENABLE_PRIORITY_SCORING", true),
		EnableCategoryTagging:  getBoolEnv("ENABLE_CATEGORY_TAGGING", true),
		EnableDueDateInference: getBoolEnv("ENABLE_DUE_DATE_INFERENCE", true),
		HighPriorityKeywords:   getEnv("HIGH_PRIORITY_KEYWORDS", "urgent,asap,critical,eod,today,immediately"),

		MongoURI:            getEnv("MONGODB_URI", ""),
		MongoDatabase:       getEnv("MONGODB_DATABASE", "todo_aggregator"),
		RedisURL:            getEnv("REDIS_URL", ""),
		EncryptionMasterKey: getEnv("ENCRYPTION_MASTER_KEY", ""),
		UsersFile:           getEnv("USERS_FILE", ""),
		BatchCron:           getEnv("BATCH_CRON", "0 7 * * 1-5"),
		BatchTimezone:       getEnv("BATCH_TIMEZONE", "UTC"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getIntEnv("SMTP_PORT", 587),
		SMTPUser:     getEnv("SMTP_USER", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", "noreply@company.com"),
	}
}

// Validate checks the credentials every run needs before any work starts.
func (c *Config) Validate() error {
	var missing []string
	if c.AnthropicAPIKey == "" {
		missing = append(missing, "ANTHROPIC_API_KEY")
	}
	if c.NotionAPIKey == "" {
		missing = append(missing, "NOTION_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredential, strings.Join(missing, ", "))
	}
	if c.CompletionThreshold < 0 || c.CompletionThreshold > 1 {
		return fmt.Errorf("COMPLETION_THRESHOLD must be within [0,1], got %v", c.CompletionThreshold)
	}
	return nil
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// SMTPConfigured reports whether failure and digest emails can be sent.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPassword != ""
}

// GmailConfigured reports whether the shared OAuth client for Gmail is set.
func (c *Config) GmailConfigured() bool {
	return c.GmailClientID != "" && c.GmailClientSecret != ""
}

// ZoomConfigured reports whether server-to-server Zoom credentials are set.
func (c *Config) ZoomConfigured() bool {
	return c.ZoomAccountID != "" && c.ZoomClientID != "" && c.ZoomClientSecret != ""
}

// EnvIdentity is the identity configured through MY_NAME, MY_EMAIL and MY_SLACK_USERNAME.
func (c *Config) EnvIdentity() Identity {
	return NewIdentity(c.MyName, c.MyEmail, c.MySlackUsername)
}

// UserIdentity builds the identity of a registered user.
func UserIdentity(u *models.User) Identity {
	return NewIdentity(u.Name, u.Email, u.SlackUsername)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getListEnv splits a comma-separated variable, trimming and lower-casing entries.
func getListEnv(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
