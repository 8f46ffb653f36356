package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/theirongolddev/claude-usage-tracker/internal/atomicfile"
)

// Backend is a key-value home for one credential payload. The file on disk
// and the credential vaults all satisfy it so Store treats them alike.
type Backend interface {
	// Read returns the stored payload.
	Read(ctx context.Context) ([]byte, error)
	// Write replaces the stored payload.
	Write(ctx context.Context, data []byte) error
	// Check reports whether a payload is stored.
	Check(ctx context.Context) (bool, error)
}

// vaultBackend marks backends that may hold a bare access token rather than
// a full credential document.
type vaultBackend interface {
	vault()
}

// FileBackend stores the credential document in a file owned by Claude Code.
type FileBackend struct {
	Path string
}

func (b *FileBackend) String() string { return "file " + b.Path }

// Read returns the raw document.
func (b *FileBackend) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	return data, nil
}

// Write atomically replaces the document, readable by the owner only.
func (b *FileBackend) Write(_ context.Context, data []byte) error {
	return atomicfile.Write(b.Path, data, 0o600)
}

// Check reports whether the document exists.
func (b *FileBackend) Check(_ context.Context) (bool, error) {
	_, err := os.Stat(b.Path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func backendName(b Backend) string {
	if s, ok := b.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", b)
}
