package staging

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Get when the artifact does not exist.
	ErrNotFound = errors.New("staging artifact not found")

	// ErrExists is returned by Put when the name is already taken.
	ErrExists = errors.New("staging artifact already exists")
)

// Store holds raw images between intake and the worker. Refs returned by
// Put are opaque to callers. Delete of a missing artifact succeeds.
// Each artifact belongs to one job, so names from ArtifactName are unique
// per call.
type Store interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// ArtifactName builds "<eventID>-<uuid>.<ext>". Characters outside
// [A-Za-z0-9_-] become underscores, so distinct ids may sanitize alike and
// the same id may arrive twice; the UUID keeps every name distinct.
func ArtifactName(eventID, ext string) string {
	id := uuid.NewString()
	if prefix := sanitize(eventID); prefix != "" {
		id = prefix + "-" + id
	}

	ext = sanitize(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "bin"
	}
	return id + "." + ext
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
