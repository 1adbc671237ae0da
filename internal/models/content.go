package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Source tags the platform family a piece of content came from.
type Source string

const (
	SourceChat    Source = "chat"
	SourceEmail   Source = "email"
	SourceMeeting Source = "meeting"
	SourceNotes   Source = "notes"
)

// SourceOrder is the order platforms are presented to the model.
var SourceOrder = []Source{SourceChat, SourceEmail, SourceMeeting, SourceNotes}

// ParseSource maps a free-form source name (including platform names the model
// tends to echo back) onto a Source tag. Unknown names return "".
func ParseSource(raw string) Source {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "chat", "slack":
		return SourceChat
	case "email", "gmail", "mail":
		return SourceEmail
	case "meeting", "zoom":
		return SourceMeeting
	case "notes", "notion":
		return SourceNotes
	}
	return ""
}

// Label is the human readable header used when grouping content by platform.
func (s Source) Label() string {
	switch s {
	case SourceChat:
		return "CHAT"
	case SourceEmail:
		return "EMAIL"
	case SourceMeeting:
		return "MEETING"
	case SourceNotes:
		return "NOTES"
	}
	return strings.ToUpper(string(s))
}

// Metadata keys shared by the collectors.
const (
	MetaTimestamp    = "timestamp"
	MetaChannel      = "channel"
	MetaChannelName  = "channel_name"
	MetaMessageTS    = "message_ts"
	MetaThreadTS     = "thread_ts"
	MetaAuthor       = "author"
	MetaThreadID     = "thread_id"
	MetaSubject      = "subject"
	MetaMessageCount = "message_count"
	MetaPageID       = "page_id"
	MetaMeetingID    = "meeting_id"
	MetaTitle        = "title"
)

// ContentItem is one unit of collected text with its provenance.
type ContentItem struct {
	Text      string         `json:"text"`
	SourceURL string         `json:"source_url"`
	Source    Source         `json:"source"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Timestamp recovers the item's time from its metadata. Collectors store a
// time.Time, but Slack-style "1712345678.000100" strings and RFC3339 strings
// are accepted as well.
func (c ContentItem) Timestamp() (time.Time, bool) {
	if c.Metadata == nil {
		return time.Time{}, false
	}
	for _, key := range []string{MetaTimestamp, MetaMessageTS} {
		switch v := c.Metadata[key].(type) {
		case time.Time:
			if !v.IsZero() {
				return v, true
			}
		case string:
			if t, ok := ParseSlackTS(v); ok {
				return t, true
			}
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t, true
			}
		case float64:
			return time.Unix(0, int64(v*float64(time.Second))).UTC(), true
		case int64:
			return time.Unix(v, 0).UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseSlackTS parses a Slack message timestamp ("seconds.micros").
func ParseSlackTS(ts string) (time.Time, bool) {
	if ts == "" {
		return time.Time{}, false
	}
	secPart, fracPart, _ := strings.Cut(ts, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		for i := len(fracPart); i < 9; i++ {
			frac *= 10
		}
		nanos = frac
	}
	return time.Unix(sec, nanos).UTC(), true
}

// ContentBundle is the merged output of every collector for one run.
type ContentBundle struct {
	Items []ContentItem
}

// Add appends items to the bundle.
func (b *ContentBundle) Add(items ...ContentItem) {
	b.Items = append(b.Items, items...)
}

// Len returns the number of items.
func (b *ContentBundle) Len() int { return len(b.Items) }

// SourceGroup is a run of items sharing one source tag.
type SourceGroup struct {
	Source Source
	Items  []ContentItem
}

// Grouped partitions the bundle by source, in SourceOrder, keeping collection
// order inside each group. Sources outside SourceOrder come last, sorted by name.
func (b *ContentBundle) Grouped() []SourceGroup {
	bySource := make(map[Source][]ContentItem)
	for _, item := range b.Items {
		bySource[item.Source] = append(bySource[item.Source], item)
	}

	groups := make([]SourceGroup, 0, len(bySource))
	for _, src := range SourceOrder {
		if items, ok := bySource[src]; ok {
			groups = append(groups, SourceGroup{Source: src, Items: items})
			delete(bySource, src)
		}
	}

	var extra []Source
	for src := range bySource {
		extra = append(extra, src)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, src := range extra {
		groups = append(groups, SourceGroup{Source: src, Items: bySource[src]})
	}
	return groups
}
