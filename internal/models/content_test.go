package models

import (
	"testing"
	"time"
)

func TestParseSlackTS(t *testing.T) {
	ts, ok := ParseSlackTS("1712345678.000100")
	if !ok {
		t.Fatal("expected timestamp to parse")
	}
	if ts.Unix() != 1712345678 {
		t.Errorf("expected seconds 1712345678, got %d", ts.Unix())
	}
	if ts.Nanosecond() != 100000 {
		t.Errorf("expected 100000ns, got %d", ts.Nanosecond())
	}

	for _, bad := range []string{"", "abc", "12.xx"} {
		if _, ok := ParseSlackTS(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestContentItemTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	item := ContentItem{Metadata: map[string]any{MetaTimestamp: now}}
	if got, ok := item.Timestamp(); !ok || !got.Equal(now) {
		t.Errorf("expected %v, got %v (%v)", now, got, ok)
	}

	item = ContentItem{Metadata: map[string]any{MetaMessageTS: "1715342400.000000"}}
	if got, ok := item.Timestamp(); !ok || !got.Equal(now) {
		t.Errorf("expected slack ts to resolve to %v, got %v", now, got)
	}

	item = ContentItem{Metadata: map[string]any{MetaTimestamp: "2024-05-10T12:00:00Z"}}
	if got, ok := item.Timestamp(); !ok || !got.Equal(now) {
		t.Errorf("expected RFC3339 to resolve to %v, got %v", now, got)
	}

	if _, ok := (ContentItem{}).Timestamp(); ok {
		t.Error("expected no timestamp without metadata")
	}
}

func TestContentBundleGrouped(t *testing.T) {
	var b ContentBundle
	b.Add(
		ContentItem{Text: "m1", Source: SourceMeeting},
		ContentItem{Text: "c1", Source: SourceChat},
		ContentItem{Text: "e1", Source: SourceEmail},
		ContentItem{Text: "c2", Source: SourceChat},
	)

	groups := b.Grouped()
	if len(groups) != 3 {
		t.Fatalf("expected 3 groups, got %d", len(groups))
	}
	if groups[0].Source != SourceChat || groups[1].Source != SourceEmail || groups[2].Source != SourceMeeting {
		t.Errorf("unexpected group order: %s %s %s", groups[0].Source, groups[1].Source, groups[2].Source)
	}
	if groups[0].Items[0].Text != "c1" || groups[0].Items[1].Text != "c2" {
		t.Error("expected collection order to be preserved within a group")
	}
}

func TestParseSource(t *testing.T) {
	cases := map[string]Source{
		"slack":   SourceChat,
		"Gmail":   SourceEmail,
		"zoom":    SourceMeeting,
		"NOTION":  SourceNotes,
		"meeting": SourceMeeting,
		"fax":     "",
	}
	for in, want := range cases {
		if got := ParseSource(in); got != want {
			t.Errorf("ParseSource(%q) = %q, want %q", in, got, want)
		}
	}
}
