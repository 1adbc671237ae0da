package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/claysader-arch/todo-aggregator/internal/models"
)

const reloadDebounce = 100 * time.Millisecond

type usersFile struct {
	Users []models.User `yaml:"users"`
}

// FileUserRegistry reads users from a YAML file, for deployments without
// MongoDB. Tokens in the file are plain text. Run outcomes are kept in memory.
type FileUserRegistry struct {
	path string
	log  *logrus.Entry

	mu    sync.RWMutex
	users []models.User
	runs  []models.RunRecord
}

// NewFileUserRegistry loads path once.
func NewFileUserRegistry(path string, log *logrus.Entry) (*FileUserRegistry, error) {
	r := &FileUserRegistry{path: path, log: log.WithField("component", "users_file")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the users file. On error the previous users are kept.
func (r *FileUserRegistry) Reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("failed to read users file: %w", err)
	}
	var parsed usersFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("failed to parse users file %s: %w", r.path, err)
	}

	seen := make(map[string]bool)
	for _, u := range parsed.Users {
		if u.Key == "" {
			return fmt.Errorf("users file %s: every user needs a key", r.path)
		}
		if seen[u.Key] {
			return fmt.Errorf("users file %s: duplicate key %q", r.path, u.Key)
		}
		seen[u.Key] = true
	}

	r.mu.Lock()
	r.users = parsed.Users
	r.mu.Unlock()
	r.log.WithField("users", len(parsed.Users)).Info("users file loaded")
	return nil
}

// Watch reloads the file whenever it changes until ctx is done. The parent
// directory is watched so editors that replace the file are handled.
func (r *FileUserRegistry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		target := filepath.Clean(r.path)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					if err := r.Reload(); err != nil {
						r.log.WithError(err).Warn("users file reload failed, keeping previous users")
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.WithError(err).Warn("users file watcher error")
			}
		}
	}()
	return nil
}

func (r *FileUserRegistry) EnabledUsers(ctx context.Context) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.User
	for _, u := range r.users {
		if u.Enabled {
			out = append(out, u)
		}
	}
	return out, nil
}

func (r *FileUserRegistry) GetUser(ctx context.Context, key string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Key == key {
			found := u
			return &found, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", key, ErrNotFound)
}

func (r *FileUserRegistry) RecordRun(ctx context.Context, record models.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs = append(r.runs, record)
	for i := range r.users {
		if r.users[i].Key == record.UserKey {
			finished := record.FinishedAt
			r.users[i].LastRunAt = &finished
			r.users[i].LastRunStatus = record.Status
			r.users[i].LastRunError = record.Error
		}
	}
	return nil
}

// Runs returns the run records seen since start-up.
func (r *FileUserRegistry) Runs() []models.RunRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.RunRecord(nil), r.runs...)
}
