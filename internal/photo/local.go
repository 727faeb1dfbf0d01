package photo

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Local writes photos under a directory on disk.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates the directory if needed. URLs are baseURL + "/" + key, or
// file URLs when baseURL is empty.
func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "photo: create dir %s", dir)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Put writes data to dir/key.
func (l *Local) Put(ctx context.Context, key, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "photo: context cancelled")
	}
	p := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", eris.Wrapf(err, "photo: create dir for %s", key)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "photo: write %s", key)
	}
	if l.baseURL == "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", eris.Wrapf(err, "photo: resolve %s", p)
		}
		return "file://" + filepath.ToSlash(abs), nil
	}
	return l.baseURL + "/" + key, nil
}
