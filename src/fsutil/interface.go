package fsutil

import "context"

// FileStore keeps uploaded files by name. Load returns an error matching
// fs.ErrNotExist for unknown names.
type FileStore interface {
	// Save writes data under name, replacing any previous content, and
	// returns where it was stored
	Save(ctx context.Context, name string, data []byte) (string, error)

	// Load reads the content stored under name
	Load(ctx context.Context, name string) ([]byte, error)

	// List returns the stored names
	List(ctx context.Context) ([]string, error)
}
