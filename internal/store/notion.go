package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/claysader-arch/todo-aggregator/internal/models"
	"github.com/claysader-arch/todo-aggregator/internal/notion"
)

// PropertyNames maps todo fields onto Notion database property names. An
// empty name means the database has no such column and the field is skipped.
type PropertyNames struct {
	Task       string
	Status     string
	Source     string
	SourceURL  string
	DueDate    string
	Completed  string
	Confidence string
	DedupeHash string
	Priority   string
	Category   string
	Type       string
	AssignedTo string
}

// DefaultPropertyNames is the column layout of the todo database template.
var DefaultPropertyNames = PropertyNames{
	Task:       "Task",
	Status:     "Status",
	Source:     "Source",
	SourceURL:  "Source URL",
	DueDate:    "Due Date",
	Completed:  "Completed",
	Confidence: "Confidence",
	DedupeHash: "Dedupe Hash",
	Priority:   "Priority",
	Category:   "Category",
	Type:       "Type",
	AssignedTo: "Assigned To",
}

// NotionTodoStore implements TodoStore on a Notion database.
type NotionTodoStore struct {
	client     *notion.Client
	databaseID string
	props      PropertyNames
	log        *logrus.Entry
}

// NewNotionTodoStore creates a store over one todo database.
func NewNotionTodoStore(client *notion.Client, databaseID string, props PropertyNames, log *logrus.Entry) *NotionTodoStore {
	return &NotionTodoStore{
		client:     client,
		databaseID: databaseID,
		props:      props,
		log:        log.WithField("component", "notion_store"),
	}
}

func (s *NotionTodoStore) Query(ctx context.Context, filter Filter) ([]models.PersistedTodo, error) {
	query, err := s.queryBody(filter)
	if err != nil {
		return nil, err
	}
	pages, err := s.client.QueryDatabase(ctx, s.databaseID, query)
	if err != nil {
		return nil, err
	}

	todos := make([]models.PersistedTodo, 0, len(pages))
	for _, page := range pages {
		todos = append(todos, s.parsePage(page))
	}
	s.log.WithField("count", len(todos)).Debug("retrieved todos")
	return todos, nil
}

func (s *NotionTodoStore) queryBody(filter Filter) ([]byte, error) {
	if len(filter.Statuses) == 0 || s.props.Status == "" {
		return []byte(`{}`), nil
	}
	var or []map[string]any
	for _, status := range filter.Statuses {
		or = append(or, map[string]any{
			"property": s.props.Status,
			"select":   map[string]string{"equals": string(status)},
		})
	}
	return json.Marshal(map[string]any{"filter": map[string]any{"or": or}})
}

func (s *NotionTodoStore) Create(ctx context.Context, todo models.PersistedTodo) (models.PersistedTodo, error) {
	properties, err := json.Marshal(s.buildProperties(todo))
	if err != nil {
		return todo, fmt.Errorf("failed to encode properties: %w", err)
	}
	page, err := s.client.CreatePage(ctx, s.databaseID, properties)
	if err != nil {
		return todo, fmt.Errorf("create todo %q: %w", todo.Task, err)
	}
	todo.ID = page.Get("id").String()
	todo.URL = page.Get("url").String()
	todo.CreatedAt, todo.LastEditedAt = pageTimes(page)
	return todo, nil
}

func (s *NotionTodoStore) Update(ctx context.Context, id string, patch TodoPatch) error {
	props := map[string]any{}
	if patch.Status != "" && s.props.Status != "" {
		props[s.props.Status] = map[string]any{"select": map[string]string{"name": string(patch.Status)}}
	}
	if patch.Completed != "" && s.props.Completed != "" {
		props[s.props.Completed] = map[string]any{"date": map[string]string{"start": patch.Completed}}
	}
	if len(props) == 0 {
		return nil
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	if _, err := s.client.UpdatePage(ctx, id, raw); err != nil {
		return fmt.Errorf("update todo %s: %w", id, err)
	}
	return nil
}

func (s *NotionTodoStore) Comment(ctx context.Context, id, text string) error {
	return s.client.AddComment(ctx, id, text)
}

func (s *NotionTodoStore) buildProperties(todo models.PersistedTodo) map[string]any {
	props := map[string]any{}
	set := func(name string, value any) {
		if name != "" {
			props[name] = value
		}
	}

	set(s.props.Task, map[string]any{"title": []map[string]any{{"text": map[string]string{"content": todo.Task}}}})
	if todo.Status != "" {
		set(s.props.Status, map[string]any{"select": map[string]string{"name": string(todo.Status)}})
	}
	if todo.Source != "" {
		set(s.props.Source, map[string]any{"multi_select": []map[string]string{{"name": string(todo.Source)}}})
	}
	if todo.SourceURL != "" {
		set(s.props.SourceURL, map[string]any{"url": todo.SourceURL})
	}
	if todo.DueDate != "" {
		set(s.props.DueDate, map[string]any{"date": map[string]string{"start": todo.DueDate}})
	}
	if todo.Completed != "" {
		set(s.props.Completed, map[string]any{"date": map[string]string{"start": todo.Completed}})
	}
	set(s.props.Confidence, map[string]any{"number": todo.Confidence})
	if todo.DedupeHash != "" {
		set(s.props.DedupeHash, richTextProperty(todo.DedupeHash))
	}
	if todo.Priority != "" {
		set(s.props.Priority, map[string]any{"select": map[string]string{"name": capitalize(string(todo.Priority))}})
	}
	if len(todo.Category) > 0 {
		options := make([]map[string]string, 0, len(todo.Category))
		for _, c := range todo.Category {
			options = append(options, map[string]string{"name": string(c)})
		}
		set(s.props.Category, map[string]any{"multi_select": options})
	}
	if todo.Type != "" {
		set(s.props.Type, map[string]any{"select": map[string]string{"name": string(todo.Type)}})
	}
	if todo.AssignedTo != "" {
		set(s.props.AssignedTo, richTextProperty(todo.AssignedTo))
	}
	return props
}

func richTextProperty(s string) map[string]any {
	return map[string]any{"rich_text": []map[string]any{{"text": map[string]string{"content": s}}}}
}

func (s *NotionTodoStore) parsePage(page gjson.Result) models.PersistedTodo {
	props := map[string]gjson.Result{}
	page.Get("properties").ForEach(func(key, value gjson.Result) bool {
		props[key.String()] = value
		return true
	})
	get := func(name string) gjson.Result {
		if name == "" {
			return gjson.Result{}
		}
		return props[name]
	}

	todo := models.PersistedTodo{
		ID:         page.Get("id").String(),
		URL:        page.Get("url").String(),
		Task:       notion.JoinPlainText(get(s.props.Task).Get("title")),
		Status:     models.Status(get(s.props.Status).Get("select.name").String()),
		SourceURL:  get(s.props.SourceURL).Get("url").String(),
		DueDate:    get(s.props.DueDate).Get("date.start").String(),
		Completed:  get(s.props.Completed).Get("date.start").String(),
		Confidence: get(s.props.Confidence).Get("number").Float(),
		DedupeHash: notion.JoinPlainText(get(s.props.DedupeHash).Get("rich_text")),
		Priority:   models.Priority(strings.ToLower(get(s.props.Priority).Get("select.name").String())),
		Type:       models.TodoType(strings.ToLower(get(s.props.Type).Get("select.name").String())),
		AssignedTo: notion.JoinPlainText(get(s.props.AssignedTo).Get("rich_text")),
	}
	if first := get(s.props.Source).Get("multi_select.0.name"); first.Exists() {
		todo.Source = models.ParseSource(first.String())
	}
	for _, opt := range get(s.props.Category).Get("multi_select").Array() {
		if c := models.Category(strings.ToLower(opt.Get("name").String())); c.IsValid() {
			todo.Category = append(todo.Category, c)
		}
	}
	todo.CreatedAt, todo.LastEditedAt = pageTimes(page)
	return todo
}

// pageTimes reads the page's created_time and last_edited_time. Unparseable
// values stay zero.
func pageTimes(page gjson.Result) (created, edited time.Time) {
	if t, err := time.Parse(time.RFC3339, page.Get("created_time").String()); err == nil {
		created = t
	}
	if t, err := time.Parse(time.RFC3339, page.Get("last_edited_time").String()); err == nil {
		edited = t
	}
	return created, edited
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
