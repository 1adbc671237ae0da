package collectors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/models"
)

const (
	historyLimit      = 100
	probeLimit        = 20
	enumerateTypes    = "public_channel,private_channel,mpim,im"
	slackTimeLayout   = "2006-01-02 15:04"
	slackMessageLimit = 1500
)

type slackConversation struct {
	ID     string
	Name   string
	DMLike bool
}

type slackMessage struct {
	TS       string
	ThreadTS string
	User     string
	Text     string
	Time     time.Time
	Link     string
}

// SlackCollector gathers the user's recent Slack conversations: DMs through
// search, and channels the user posted in during the window.
type SlackCollector struct {
	client *SlackClient
	cfg    config.RunConfig
	log    *logrus.Entry
}

// NewSlackCollector creates a collector for one user token.
func NewSlackCollector(client *SlackClient, cfg config.RunConfig, log *logrus.Entry) *SlackCollector {
	return &SlackCollector{client: client, cfg: cfg, log: log.WithField("collector", "slack")}
}

func (c *SlackCollector) Name() string { return "slack" }

func (c *SlackCollector) Collect(ctx context.Context) ([]models.ContentItem, error) {
	me, domain, err := c.client.AuthTest(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack auth.test: %w", err)
	}
	cutoff := c.cfg.Cutoff()

	var items []models.ContentItem

	dmItems, dmErr := c.collectDMs(ctx, me, domain, cutoff)
	if dmErr != nil {
		c.log.WithError(dmErr).Warn("DM collection failed")
	}
	items = append(items, dmItems...)

	conversations, discErr := c.discoverConversations(ctx, me, cutoff)
	if discErr != nil {
		c.log.WithError(discErr).Warn("channel discovery failed")
	}
	if dmErr != nil && discErr != nil {
		return nil, errors.Join(dmErr, discErr)
	}

	for _, conv := range conversations {
		messages, err := c.conversationMessages(ctx, conv, cutoff)
		if err != nil {
			c.log.WithError(err).WithField("channel", conv.Name).Warn("skipping conversation")
			continue
		}
		if !conv.DMLike && !authoredAny(messages, me) {
			c.log.WithField("channel", conv.Name).Debug("skipping conversation without participation")
			continue
		}
		for _, m := range messages {
			items = append(items, c.messageItem(ctx, conv, domain, m))
		}
	}

	c.log.WithFields(logrus.Fields{
		"items":         len(items),
		"conversations": len(conversations),
	}).Info("slack collection complete")
	return items, nil
}

// searchAfter is the date for "after:" search modifiers. Slack treats it as
// exclusive, so one extra day is subtracted.
func (c *SlackCollector) searchAfter() string {
	return c.cfg.Now().AddDate(0, 0, -(c.cfg.LookbackDays() + 1)).Format("2006-01-02")
}

// searchAll pages through a query until the reported total is reached, a
// page comes back empty, or the page ceiling is hit.
func (c *SlackCollector) searchAll(ctx context.Context, query string) ([]gjson.Result, error) {
	maxPages := c.cfg.Limits().SearchPages
	var matches []gjson.Result
	for page := 1; ; page++ {
		if maxPages > 0 && page > maxPages {
			c.log.WithFields(logrus.Fields{"query": query, "pages": maxPages}).Warn("search page ceiling reached")
			break
		}
		res, err := c.client.SearchMessages(ctx, query, page)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			c.log.WithError(err).WithField("page", page).Warn("search pagination stopped early")
			break
		}
		matches = append(matches, res.Matches...)
		if len(res.Matches) == 0 || len(matches) >= res.Total || (res.Pages > 0 && page >= res.Pages) {
			break
		}
	}
	return matches, nil
}

func (c *SlackCollector) collectDMs(ctx context.Context, me, domain string, cutoff time.Time) ([]models.ContentItem, error) {
	matches, err := c.searchAll(ctx, "is:dm after:"+c.searchAfter())
	if err != nil {
		return nil, err
	}

	byChannel := map[string][]slackMessage{}
	var order []string
	for _, m := range matches {
		msg := slackMessage{
			TS:   m.Get("ts").String(),
			User: m.Get("user").String(),
			Text: m.Get("text").String(),
			Link: m.Get("permalink").String(),
		}
		ts, ok := models.ParseSlackTS(msg.TS)
		if !ok || ts.Before(cutoff) || msg.Text == "" {
			continue
		}
		msg.Time = ts
		id := m.Get("channel.id").String()
		if _, seen := byChannel[id]; !seen {
			order = append(order, id)
		}
		byChannel[id] = append(byChannel[id], msg)
	}

	var items []models.ContentItem
	for _, id := range order {
		messages := dedupeSorted(byChannel[id])
		conv := slackConversation{ID: id, Name: c.dmName(ctx, me, messages), DMLike: true}
		for _, m := range messages {
			items = append(items, c.messageItem(ctx, conv, domain, m))
		}
	}
	return items, nil
}

// dmName labels a DM after the first participant other than the user.
func (c *SlackCollector) dmName(ctx context.Context, me string, messages []slackMessage) string {
	for _, m := range messages {
		if m.User != "" && m.User != me {
			return "DM with " + c.client.UserName(ctx, m.User)
		}
	}
	return "DM"
}

// discoverConversations finds non-DM conversations the user was active in.
// Search is preferred; enumeration is used only when the token may not search.
func (c *SlackCollector) discoverConversations(ctx context.Context, me string, cutoff time.Time) ([]slackConversation, error) {
	convs, err := c.searchActiveConversations(ctx)
	if err == nil {
		return convs, nil
	}
	if !errors.Is(err, ErrSearchUnavailable) {
		return nil, err
	}
	c.log.WithError(err).Warn("search unavailable, falling back to conversation enumeration")
	return c.enumerateActiveConversations(ctx, me, cutoff)
}

func (c *SlackCollector) searchActiveConversations(ctx context.Context) ([]slackConversation, error) {
	matches, err := c.searchAll(ctx, "from:me after:"+c.searchAfter())
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var convs []slackConversation
	for _, m := range matches {
		ch := m.Get("channel")
		id := ch.Get("id").String()
		if id == "" || seen[id] || ch.Get("is_im").Bool() {
			continue
		}
		seen[id] = true
		convs = append(convs, slackConversation{
			ID:     id,
			Name:   conversationName(ch),
			DMLike: ch.Get("is_mpim").Bool(),
		})
	}
	return convs, nil
}

func (c *SlackCollector) enumerateActiveConversations(ctx context.Context, me string, cutoff time.Time) ([]slackConversation, error) {
	all, err := c.client.ListConversations(ctx, enumerateTypes, c.cfg.Limits().SearchPages)
	if err != nil && len(all) == 0 {
		return nil, err
	}

	var convs []slackConversation
	for _, ch := range all {
		if ch.Get("is_archived").Bool() || ch.Get("is_im").Bool() {
			continue
		}
		mpim := ch.Get("is_mpim").Bool()
		if !mpim && !ch.Get("is_member").Bool() {
			continue
		}

		recent, err := c.client.History(ctx, ch.Get("id").String(), slackTSParam(cutoff), probeLimit)
		if err != nil {
			c.log.WithError(err).WithField("channel", ch.Get("name").String()).Debug("probe failed")
			continue
		}
		if len(recent) == 0 {
			continue
		}
		if !mpim && !authoredAnyRaw(recent, me) {
			continue
		}
		convs = append(convs, slackConversation{ID: ch.Get("id").String(), Name: conversationName(ch), DMLike: mpim})
	}
	return convs, nil
}

// conversationMessages reconstructs the recent part of a conversation. Threads
// with a reply inside the window pull in their parent even when the parent is
// older than the window.
func (c *SlackCollector) conversationMessages(ctx context.Context, conv slackConversation, cutoff time.Time) ([]slackMessage, error) {
	history, err := c.client.History(ctx, conv.ID, "", historyLimit)
	if err != nil {
		return nil, err
	}

	messages := humanMessages(history)
	active := map[string]bool{}
	probes := 0
	for _, parent := range history {
		if parent.Get("reply_count").Int() == 0 {
			continue
		}
		// a thread whose last reply predates the window cannot contribute
		if latest, ok := models.ParseSlackTS(parent.Get("latest_reply").String()); ok && latest.Before(cutoff) {
			continue
		}
		if limit := c.cfg.Limits().ThreadProbes; limit > 0 && probes >= limit {
			c.log.WithField("channel", conv.Name).Debug("thread probe cap reached")
			break
		}
		probes++

		threadTS := parent.Get("thread_ts").String()
		if threadTS == "" {
			threadTS = parent.Get("ts").String()
		}
		replies, err := c.client.Replies(ctx, conv.ID, threadTS, slackTSParam(cutoff))
		if err != nil {
			c.log.WithError(err).WithField("thread_ts", threadTS).Debug("could not fetch thread replies")
			continue
		}
		for _, r := range humanMessages(replies) {
			if r.TS != threadTS && !r.Time.Before(cutoff) {
				active[threadTS] = true
			}
			messages = append(messages, r)
		}
	}

	var kept []slackMessage
	for _, m := range dedupeSorted(messages) {
		if !m.Time.Before(cutoff) || active[m.ThreadTS] || active[m.TS] {
			kept = append(kept, m)
		}
	}
	return kept, nil
}

func (c *SlackCollector) messageItem(ctx context.Context, conv slackConversation, domain string, m slackMessage) models.ContentItem {
	header := "=== Slack: " + conv.Name + " ==="
	if m.ThreadTS != "" && m.ThreadTS != m.TS {
		header = "=== Slack: " + conv.Name + " (thread reply) ==="
	}
	author := c.client.UserName(ctx, m.User)
	local := m.Time.In(c.cfg.Now().Location())
	text := fmt.Sprintf("%s\n[%s] @%s: %s", header, local.Format(slackTimeLayout), author,
		truncateRunes(m.Text, slackMessageLimit, " ... [truncated]"))

	link := m.Link
	if link == "" {
		link = slackPermalink(domain, conv.ID, m.TS, m.ThreadTS)
	}

	return models.ContentItem{
		Text:      text,
		SourceURL: link,
		Source:    models.SourceChat,
		Metadata: map[string]any{
			models.MetaTimestamp:   m.Time,
			models.MetaChannel:     conv.ID,
			models.MetaChannelName: conv.Name,
			models.MetaMessageTS:   m.TS,
			models.MetaThreadTS:    m.ThreadTS,
			models.MetaAuthor:      author,
		},
	}
}

// slackPermalink builds https://<domain>.slack.com/archives/<channel>/p<ts>.
func slackPermalink(domain, channelID, ts, threadTS string) string {
	if domain == "" {
		return ""
	}
	link := fmt.Sprintf("https://%s.slack.com/archives/%s/p%s", domain, channelID, strings.ReplaceAll(ts, ".", ""))
	if threadTS != "" && threadTS != ts {
		link += fmt.Sprintf("?thread_ts=%s&cid=%s", threadTS, channelID)
	}
	return link
}

func conversationName(ch gjson.Result) string {
	name := ch.Get("name").String()
	if ch.Get("is_mpim").Bool() {
		if name == "" {
			return "Group DM"
		}
		return name
	}
	if name == "" {
		return "#unknown"
	}
	return "#" + name
}

// humanMessages drops bot posts, joins, edits and other subtyped events.
func humanMessages(raw []gjson.Result) []slackMessage {
	var out []slackMessage
	for _, m := range raw {
		if m.Get("subtype").Exists() || m.Get("bot_id").Exists() {
			continue
		}
		text := m.Get("text").String()
		ts, ok := models.ParseSlackTS(m.Get("ts").String())
		if !ok || text == "" {
			continue
		}
		out = append(out, slackMessage{
			TS:       m.Get("ts").String(),
			ThreadTS: m.Get("thread_ts").String(),
			User:     m.Get("user").String(),
			Text:     text,
			Time:     ts,
		})
	}
	return out
}

// dedupeSorted removes repeated timestamps and orders oldest first.
func dedupeSorted(messages []slackMessage) []slackMessage {
	seen := map[string]bool{}
	out := make([]slackMessage, 0, len(messages))
	for _, m := range messages {
		if seen[m.TS] {
			continue
		}
		seen[m.TS] = true
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

func authoredAny(messages []slackMessage, userID string) bool {
	for _, m := range messages {
		if m.User == userID {
			return true
		}
	}
	return false
}

func authoredAnyRaw(messages []gjson.Result, userID string) bool {
	for _, m := range messages {
		if m.Get("user").String() == userID {
			return true
		}
	}
	return false
}
