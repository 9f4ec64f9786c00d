package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsPath is where mounted secret files are looked up.
const DefaultSecretsPath = "/var/secrets"

// FileProvider reads one value per file from a mounted secrets directory.
// CLAUDE_API_KEY is read from <dir>/claude-api-key.
type FileProvider struct {
	dir string
}

func NewFileProvider(dir string) *FileProvider {
	return &FileProvider{dir: dir}
}

// SecretFileName maps a key to its file name.
func SecretFileName(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", "-"))
}

func (f *FileProvider) GetSecret(_ context.Context, key string) (string, error) {
	if f.dir == "" {
		return "", fmt.Errorf("secrets path not configured")
	}

	path := filepath.Join(f.dir, SecretFileName(key))
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *FileProvider) Name() string {
	return "file"
}

// IsAvailable reports whether the secrets directory exists.
func (f *FileProvider) IsAvailable(context.Context) bool {
	if f.dir == "" {
		return false
	}
	info, err := os.Stat(f.dir)
	return err == nil && info.IsDir()
}
