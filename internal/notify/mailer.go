// Package notify emails users about their runs.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/smtp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/pipeline"
)

const failureSubject = "Todo Aggregator Run Failed"

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer sends failure notices and run digests over SMTP. An unconfigured
// mailer logs and skips every message.
type Mailer struct {
	host     string
	port     int
	user     string
	password string
	from     string
	send     sendFunc
	markdown goldmark.Markdown
	now      func() time.Time
	log      *logrus.Entry
}

func NewMailer(cfg *config.Config, log *logrus.Entry) *Mailer {
	return &Mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		user:     cfg.SMTPUser,
		password: cfg.SMTPPassword,
		from:     cfg.SMTPFrom,
		send:     smtp.SendMail,
		markdown: goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
		now:      time.Now,
		log:      log.WithField("component", "mailer"),
	}
}

// Configured reports whether host and credentials are set.
func (m *Mailer) Configured() bool {
	return m.host != "" && m.user != "" && m.password != ""
}

// NotifyFailure tells the user their run failed.
func (m *Mailer) NotifyFailure(ctx context.Context, to, name string, runErr error) error {
	return m.deliver(to, failureSubject, "text/plain", FailureBody(name, runErr))
}

// FailureBody is the plain-text failure notice.
func FailureBody(name string, runErr error) string {
	return fmt.Sprintf(`Hi %s,

Your Todo Aggregator run failed this morning.

Error: %v

This usually means one of your tokens expired. Please reach out to get it fixed.

- Todo Aggregator Bot
`, name, runErr)
}

// NotifyDigest sends the run summary rendered as HTML.
func (m *Mailer) NotifyDigest(ctx context.Context, to, name string, result *pipeline.Result) error {
	date := m.now().Format("Jan 02, 2006")
	html, err := m.RenderDigest(name, date, result)
	if err != nil {
		return fmt.Errorf("render digest: %w", err)
	}
	return m.deliver(to, "Todo Aggregator Summary - "+date, "text/html", html)
}

// DigestMarkdown is the markdown source of the digest email.
func DigestMarkdown(name, date string, result *pipeline.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Daily Todo Summary - %s\n\n", date)
	fmt.Fprintf(&b, "Hi %s,\n\nYour daily todo aggregation is complete.\n\n", name)

	b.WriteString("| Activity | Count |\n|---|---:|\n")
	fmt.Fprintf(&b, "| New todos found | %d |\n", result.Stats.Created)
	fmt.Fprintf(&b, "| Todos auto-completed | %d |\n", result.Stats.Completed-result.Stats.NeedsReview)
	fmt.Fprintf(&b, "| Marked for review | %d |\n", result.Stats.NeedsReview)
	fmt.Fprintf(&b, "| Duplicates skipped | %d |\n\n", result.Stats.Skipped)

	if len(result.SourceCounts) > 0 {
		names := make([]string, 0, len(result.SourceCounts))
		for source := range result.SourceCounts {
			names = append(names, source)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, source := range names {
			parts[i] = fmt.Sprintf("%s %d", source, result.SourceCounts[source])
		}
		fmt.Fprintf(&b, "**Sources scanned:** %s\n\n", strings.Join(parts, ", "))
	}

	if summary := strings.TrimSpace(result.Summary); summary != "" {
		b.WriteString(summary)
		b.WriteString("\n\n")
	}
	b.WriteString("- Todo Aggregator\n")
	return b.String()
}

// RenderDigest converts the digest to an HTML document.
func (m *Mailer) RenderDigest(name, date string, result *pipeline.Result) (string, error) {
	var body bytes.Buffer
	if err := m.markdown.Convert([]byte(DigestMarkdown(name, date, result)), &body); err != nil {
		return "", err
	}
	return `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"></head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
` + body.String() + `</body>
</html>`, nil
}

func (m *Mailer) deliver(to, subject, contentType, body string) error {
	if !m.Configured() || to == "" {
		m.log.WithField("subject", subject).Warn("SMTP not configured or no recipient, skipping email")
		return nil
	}

	msg := buildMessage(m.from, to, subject, contentType, body)
	addr := net.JoinHostPort(m.host, strconv.Itoa(m.port))
	auth := smtp.PlainAuth("", m.user, m.password, m.host)
	if err := m.send(addr, auth, m.from, []string{to}, msg); err != nil {
		return fmt.Errorf("send %q to %s: %w", subject, to, err)
	}
	m.log.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("email sent")
	return nil
}

func buildMessage(from, to, subject, contentType, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s; charset=\"utf-8\"\r\n", contentType)
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
