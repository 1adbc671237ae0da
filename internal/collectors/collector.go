// Package collectors fetches recent content from chat, email and meeting
// platforms and turns it into models.ContentItem values.
package collectors

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

var (
	// ErrRateLimited means a platform kept rate limiting after every retry.
	ErrRateLimited = errors.New("rate limited")

	// ErrSearchUnavailable means the token may not use search; callers fall
	// back to enumerating conversations.
	ErrSearchUnavailable = errors.New("search unavailable for this token")
)

// Collector gathers content from one platform for the run window.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]models.ContentItem, error)
}

// truncateRunes cuts s to n runes, appending suffix when anything was dropped.
func truncateRunes(s string, n int, suffix string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + suffix
}
