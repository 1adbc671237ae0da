package extraction

import (
	"fmt"
	"strings"
	"time"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

// SourceRef remembers which content item a [SOURCE:N] marker stands for.
type SourceRef struct {
	ID           int
	URL          string
	Source       models.Source
	Timestamp    time.Time
	HasTimestamp bool
}

// RenderContent lays the bundle out by platform and numbers every item with a
// [SOURCE:N] marker. The returned refs are indexed by N.
func RenderContent(bundle *models.ContentBundle) (string, []SourceRef) {
	var b strings.Builder
	var refs []SourceRef
	for _, group := range bundle.Grouped() {
		wroteHeader := false
		for _, item := range group.Items {
			if strings.TrimSpace(item.Text) == "" {
				continue
			}
			if !wroteHeader {
				fmt.Fprintf(&b, "=== %s ===\n", group.Source.Label())
				wroteHeader = true
			}
			ref := SourceRef{ID: len(refs), URL: item.SourceURL, Source: item.Source}
			ref.Timestamp, ref.HasTimestamp = item.Timestamp()
			refs = append(refs, ref)
			fmt.Fprintf(&b, "[SOURCE:%d]\n%s\n", ref.ID, item.Text)
		}
		if wroteHeader {
			b.WriteString("\n")
		}
	}
	return b.String(), refs
}

// buildPrompt renders the extraction instructions for the run's user around
// the numbered content.
func buildPrompt(cfg config.RunConfig, content string) string {
	id := cfg.Identity()
	name := id.PrimaryName()
	handle := id.SlackUsername()
	variants := id.RawNames()
	if variants == "" {
		variants = name
	}

	var identity strings.Builder
	fmt.Fprintf(&identity, "- Name variations: %s\n", variants)
	fmt.Fprintf(&identity, "- Slack username: @%s (messages from this user are %s's own words)\n", handle, name)
	if email := id.Email(); email != "" {
		fmt.Fprintf(&identity, "- Email: %s\n", email)
	}

	var p strings.Builder
	fmt.Fprintf(&p, "You are extracting todos specifically for %s.\n\n", name)
	p.WriteString("## User Identity\n")
	p.WriteString(identity.String())
	p.WriteString(`
## Message Format
- Chat: "[timestamp] @Username: message". The @Username is WHO sent the message.
- Email: "=== Gmail Thread: Subject ===" followed by each message as "[timestamp] From: sender". The greeting often shows the recipient.
- Meetings and notes: summaries and notes pages, often with action items.

## Your Task
Read each conversation or thread as a whole: who is talking to whom, what was promised, and who is responsible for what.
`)
	fmt.Fprintf(&p, `
Only return a todo when %[1]s is clearly the owner:
- %[1]s agreed to do something (messages FROM @%[2]s)
- %[1]s received a request or assignment, judging by context
- a message or email is addressed to %[1]s with an actionable ask

%[1]s must be PART of the conversation: they sent a message in it, were @-mentioned or addressed by name ("Hey %[1]s", "@%[2]s"), or it is a DM or email with %[1]s as a direct participant. Conversations between other people that %[1]s merely can read yield no todos, even when %[1]s is CC'd or in the channel.

Outbound requests are NOT %[1]s's todos. When %[1]s asks someone else to do something ("Could you...", "Can you...", "Please send me...", "I need you to..."), the task belongs to the other person. In a "DM with <Name>" where @%[2]s is asking, the todo belongs to <Name>.
Delegation removes ownership: once %[1]s asks someone for help, the task is theirs whether or not they have answered yet.

Never create todos for:
- calendar invites, meeting requests, or "attend <meeting>"
- requests already resolved later in the same thread (a later "thanks", "got it" or "I appreciate you" means it was handled)
- old requests followed by days of further conversation, unless explicitly still pending
- automated notifications from noreply@, no-reply@, notifications@ or bulk senders
- low-value transactional mail (expense reminders, order confirmations, renewals) unless genuinely urgent

Set confidence to how certain you are that the todo belongs to %[1]s (0.0 to 1.0).
`, name, handle)

	p.WriteString("\nFor each todo, determine:\n")
	p.WriteString("- task: clear, concise description\n")
	p.WriteString("- assigned_to: person's name or null if unspecified\n")
	p.WriteString(dueDateInstructions(cfg))
	f := cfg.Features()
	if f.PriorityScoring {
		fmt.Fprintf(&p, `- priority: urgency level
  - "high": urgency signals (%s), due within 48 hours, or from executives/managers
  - "medium": moderate urgency, due within a week, normal requests
  - "low": no urgency signals, flexible timeline, nice-to-have
`, f.HighPriorityKeywords)
	}
	if f.CategoryTagging {
		p.WriteString(`- category: array of applicable tags (may be several)
  - "follow-up": waiting on someone else, need to check in
  - "review": documents, PRs, designs to review or approve
  - "meeting": schedule or attend meetings or calls
  - "finance": budget, invoices, expenses, payments
  - "hr": hiring, onboarding, team management
  - "technical": code, bugs, infrastructure, deployments
  - "communication": emails, messages, calls to make
`)
	}
	p.WriteString(`- source: platform name (slack, gmail, zoom, notion)
- source_id: the N of the [SOURCE:N] marker the todo was found under
- source_context: brief excerpt from the original message
- confidence: your certainty (0.0 to 1.0)
- type: "explicit" (direct request) or "implicit" (self-commitment)

Content to analyze:
`)
	p.WriteString(content)
	p.WriteString(`
Return a JSON array of todos with this structure:
[
  {
    "task": "Clear description of the todo",
    "assigned_to": "Person's name or null",
    "due_date": "YYYY-MM-DD or null",
    "priority": "high",
    "category": ["follow-up", "technical"],
    "source": "slack",
    "source_id": 5,
    "source_context": "Brief context from original message",
    "confidence": 0.85,
    "type": "explicit"
  }
]

Only return the JSON array, no additional text.`)
	return p.String()
}

func dueDateInstructions(cfg config.RunConfig) string {
	if !cfg.Features().DueDateInference {
		return "- due_date: YYYY-MM-DD or null\n"
	}
	today := cfg.Now()
	return fmt.Sprintf(`- due_date: extract or infer a YYYY-MM-DD date
  - "today" is %[1]s
  - "tomorrow" is the next day
  - "by end of week" is Friday of the current week
  - "next Monday", "within 2 days": compute the specific date
  - null when no date is mentioned
  (Today is %[1]s, %[2]s)
`, today.Format(models.DueDateLayout), today.Weekday())
}
