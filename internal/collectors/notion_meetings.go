package collectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/claysader-arch/todo-aggregator/internal/config"
	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/notion"
)

var meetingTitleProperties = []string{"Name", "**Name**", "Title", "**Title**"}

// NotionMeetingsCollector reads meeting notes pages created during the window.
type NotionMeetingsCollector struct {
	client     *notion.Client
	databaseID string
	cfg        config.RunConfig
	log        *logrus.Entry
}

func NewNotionMeetingsCollector(client *notion.Client, databaseID string, cfg config.RunConfig, log *logrus.Entry) *NotionMeetingsCollector {
	return &NotionMeetingsCollector{
		client:     client,
		databaseID: databaseID,
		cfg:        cfg,
		log:        log.WithField("collector", "notion_meetings"),
	}
}

func (c *NotionMeetingsCollector) Name() string { return "notion_meetings" }

func (c *NotionMeetingsCollector) Collect(ctx context.Context) ([]models.ContentItem, error) {
	query, err := c.query()
	if err != nil {
		return nil, err
	}
	pages, err := c.client.QueryDatabase(ctx, c.databaseID, query)
	if err != nil {
		return nil, fmt.Errorf("query meetings database: %w", err)
	}

	var items []models.ContentItem
	for _, page := range pages {
		pageID := page.Get("id").String()
		title := meetingTitle(page.Get("properties"))

		content := c.client.BlockText(ctx, pageID)
		if strings.TrimSpace(content) == "" {
			c.log.WithField("page_id", pageID).Debug("skipping empty meeting page")
			continue
		}

		metadata := map[string]any{
			models.MetaPageID: pageID,
			models.MetaTitle:  title,
		}
		if created, err := time.Parse(time.RFC3339, page.Get("created_time").String()); err == nil {
			metadata[models.MetaTimestamp] = created
		}
		items = append(items, models.ContentItem{
			Text:      "=== Notion Meeting: " + title + " ===\n" + content,
			SourceURL: notion.PageURL(pageID),
			Source:    models.SourceNotes,
			Metadata:  metadata,
		})
	}

	c.log.WithField("pages", len(items)).Info("notion meetings collection complete")
	return items, nil
}

func (c *NotionMeetingsCollector) query() ([]byte, error) {
	body, err := sjson.SetBytes([]byte(`{}`), "filter.timestamp", "created_time")
	if err != nil {
		return nil, err
	}
	if body, err = sjson.SetBytes(body, "filter.created_time.on_or_after", c.cfg.Cutoff().UTC().Format(time.RFC3339)); err != nil {
		return nil, err
	}
	return sjson.SetRawBytes(body, "sorts", []byte(`[{"timestamp":"created_time","direction":"descending"}]`))
}

func meetingTitle(properties gjson.Result) string {
	for _, name := range meetingTitleProperties {
		prop := properties.Get(gjson.Escape(name))
		if prop.Get("type").String() != "title" {
			continue
		}
		if first := prop.Get("title.0.plain_text").String(); first != "" {
			return first
		}
	}
	return ""
}
