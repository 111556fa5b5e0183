// Package tenant persists the list of registered tenants so sessions can be
// re-spawned after a restart.
package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sweeney/geyser-sim/internal/mqtt"
)

// FilePermissions of the tenant list; it holds broker passwords.
const FilePermissions = 0o600

// Repository defines persistence operations for the tenant list.
type Repository interface {
	Load(ctx context.Context) ([]mqtt.UserMessage, error)
	// Upsert replaces the record with the same uid or appends it.
	Upsert(ctx context.Context, user mqtt.UserMessage) error
	Remove(ctx context.Context, uid string) error
}

// ErrNotFound is returned by Remove when no record has the uid.
var ErrNotFound = errors.New("tenant not found")

// FileRepository keeps the tenant list as an indented JSON array on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON tenant list.
	path string
	// mu serialises read-modify-write cycles.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: filepath.Clean(path)}
}

// Load returns all records. A missing file is an empty list.
func (r *FileRepository) Load(_ context.Context) ([]mqtt.UserMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.read()
}

// Upsert replaces the record with the same uid or appends it, then rewrites
// the file.
func (r *FileRepository) Upsert(_ context.Context, user mqtt.UserMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.read()
	if err != nil {
		return err
	}

	users = upsert(users, user)

	return r.write(users)
}

// Remove deletes the record with uid.
func (r *FileRepository) Remove(_ context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	users, err := r.read()
	if err != nil {
		return err
	}

	kept, ok := remove(users, uid)
	if !ok {
		return ErrNotFound
	}

	return r.write(kept)
}

func (r *FileRepository) read() ([]mqtt.UserMessage, error) {
	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("read tenant list: %w", err)
	}

	if len(contents) == 0 {
		return nil, nil
	}

	var users []mqtt.UserMessage
	if err = json.Unmarshal(contents, &users); err != nil {
		return nil, fmt.Errorf("decode tenant list: %w", err)
	}

	return users, nil
}

// write replaces the file via a temporary sibling so a crash never leaves a
// truncated list behind.
func (r *FileRepository) write(users []mqtt.UserMessage) error {
	if users == nil {
		users = []mqtt.UserMessage{}
	}

	data, err := json.MarshalIndent(users, "", "  ")
	if err != nil {
		return fmt.Errorf("encode tenant list: %w", err)
	}

	tmp := r.path + ".tmp"
	if err = os.WriteFile(tmp, data, FilePermissions); err != nil {
		return fmt.Errorf("write tenant list: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace tenant list: %w", err)
	}

	return nil
}

func upsert(users []mqtt.UserMessage, user mqtt.UserMessage) []mqtt.UserMessage {
	for i := range users {
		if users[i].UID == user.UID {
			users[i] = user
			return users
		}
	}
	return append(users, user)
}

func remove(users []mqtt.UserMessage, uid string) ([]mqtt.UserMessage, bool) {
	kept := make([]mqtt.UserMessage, 0, len(users))
	for _, u := range users {
		if u.UID != uid {
			kept = append(kept, u)
		}
	}
	return kept, len(kept) != len(users)
}
