package notify

import (
	"context"
	"errors"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/logging"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/pipeline"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestMailer(configured bool) (*Mailer, *[]sentMail) {
	cfg := &config.Config{SMTPPort: 587, SMTPFrom: "bot@example.com"}
	if configured {
		cfg.SMTPHost, cfg.SMTPUser, cfg.SMTPPassword = "smtp.example.com", "bot", "secret"
	}
	m := NewMailer(cfg, logging.Discard())
	m.now = func() time.Time { return time.Date(2024, 5, 10, 7, 0, 0, 0, time.UTC) }

	var sent []sentMail
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return m, &sent
}

func TestNotifyFailure(t *testing.T) {
	m, sent := newTestMailer(true)

	err := m.NotifyFailure(context.Background(), "alice@example.com", "Alice", errors.New("slack: invalid_auth"))
	require.NoError(t, err)
	require.Len(t, *sent, 1)

	mail := (*sent)[0]
	assert.Equal(t, "smtp.example.com:587", mail.addr)
	assert.Equal(t, []string{"alice@example.com"}, mail.to)
	assert.Contains(t, mail.msg, "Subject: Todo Aggregator Run Failed\r\n")
	assert.Contains(t, mail.msg, "Content-Type: text/plain")
	assert.Contains(t, mail.msg, "Hi Alice,\r\n\r\nYour Todo Aggregator run failed this morning.\r\n\r\nError: slack: invalid_auth\r\n")
	assert.Contains(t, mail.msg, "- Todo Aggregator Bot")
}

func TestMailerSkipsWhenUnconfigured(t *testing.T) {
	m, sent := newTestMailer(false)
	require.NoError(t, m.NotifyFailure(context.Background(), "alice@example.com", "Alice", errors.New("boom")))
	assert.Empty(t, *sent)

	m, sent = newTestMailer(true)
	require.NoError(t, m.NotifyFailure(context.Background(), "", "Alice", errors.New("boom")))
	assert.Empty(t, *sent)
}

func TestMailerSurfacesSendErrors(t *testing.T) {
	m, _ := newTestMailer(true)
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("535 auth failed") }

	err := m.NotifyFailure(context.Background(), "alice@example.com", "Alice", errors.New("boom"))
	assert.ErrorContains(t, err, "535 auth failed")
}

func TestNotifyDigestRendersMarkdown(t *testing.T) {
	m, sent := newTestMailer(true)
	result := &pipeline.Result{
		Stats:        models.RunStats{Created: 3, Completed: 2, NeedsReview: 1, Skipped: 4},
		SourceCounts: map[string]int{"slack": 12, "gmail": 4},
		Summary:      "**3 new todos** today. Review the *Q4 budget* first.",
	}

	require.NoError(t, m.NotifyDigest(context.Background(), "alice@example.com", "Alice", result))
	require.Len(t, *sent, 1)

	msg := (*sent)[0].msg
	assert.Contains(t, msg, "Subject: Todo Aggregator Summary - May 10, 2024\r\n")
	assert.Contains(t, msg, "Content-Type: text/html")
	assert.Contains(t, msg, "<h2>Daily Todo Summary - May 10, 2024</h2>")
	assert.Contains(t, msg, "<table>")
	assert.Contains(t, msg, "<td>New todos found</td>")
	assert.Contains(t, msg, "<strong>Sources scanned:</strong> gmail 4, slack 12")
	assert.Contains(t, msg, "<strong>3 new todos</strong> today. Review the <em>Q4 budget</em> first.")
}

func TestDigestMarkdownCounts(t *testing.T) {
	md := DigestMarkdown("Alice", "May 10, 2024", &pipeline.Result{
		Stats: models.RunStats{Created: 1, Completed: 3, NeedsReview: 1},
	})
	assert.Contains(t, md, "| Todos auto-completed | 2 |")
	assert.Contains(t, md, "| Marked for review | 1 |")
	assert.NotContains(t, md, "Sources scanned")
}
