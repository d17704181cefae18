package bill

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Storage defines the interface for receipt image storage
type Storage interface {
	// Save saves a file and returns its storage key
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by key
	Get(key string) ([]byte, error)

	// Delete removes a file
	Delete(key string) error

	// URL returns the public URL a stored file can be fetched from
	URL(key string) string
}

// LocalStorage implements the Storage interface using local filesystem
type LocalStorage struct {
	basePath  string
	publicURL string
}

// NewLocalStorage creates a new LocalStorage instance. publicURL is the
// externally reachable prefix files are served under.
func NewLocalStorage(basePath, publicURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	return &LocalStorage{
		basePath:  basePath,
		publicURL: strings.TrimRight(publicURL, "/"),
	}, nil
}

// Save saves a file to local storage
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	key := filepath.Base(filename)
	if err := os.WriteFile(filepath.Join(l.basePath, key), data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return key, nil
}

// Get retrieves a file from local storage
func (l *LocalStorage) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, filepath.Base(key)))
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from local storage
func (l *LocalStorage) Delete(key string) error {
	if err := os.Remove(filepath.Join(l.basePath, filepath.Base(key))); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// URL returns the public URL of a stored file
func (l *LocalStorage) URL(key string) string {
	return l.publicURL + "/files/" + url.PathEscape(key)
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips special characters and truncates long phone-generated names
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_ ")

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	if ext != "" {
		ext = "." + unsafeFilenameChars.ReplaceAllString(ext[1:], "")
	}
	return base + ext
}
