package downloader

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// Caches downloaded files in a directory, so that they survive
// restarts of the CLI.
//
// Each URL gets its own file, named by the URL's hash. The file's
// modification time holds the entry's expiration.
type Filesystem struct {
	Dir string

	TimeNow func() time.Time
}

func NewFilesystem(dir string) (*Filesystem, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	return &Filesystem{
		Dir:     dir,
		TimeNow: time.Now,
	}, nil
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	return cachedGet(ctx, f, url, headers, options)
}

func (f *Filesystem) path(url string) string {
	return filepath.Join(f.Dir, fmt.Sprintf("%x.feed", sha256.Sum256([]byte(url))))
}

func (f *Filesystem) load(ctx context.Context, url string) ([]byte, bool, error) {
	path := f.path(url)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if !info.ModTime().After(f.TimeNow()) {
		log.Debug().Str("url", url).Msg("feed cache expired")
		return nil, false, nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("reading: %w", err)
	}

	log.Debug().Str("url", url).Msg("feed cache hit")
	return body, true, nil
}

// Writes to a temporary file first, so concurrent readers never see
// a partial body.
func (f *Filesystem) store(ctx context.Context, url string, body []byte, ttl time.Duration) error {
	path := f.path(url)

	tmp, err := os.CreateTemp(f.Dir, "download-*")
	if err != nil {
		return fmt.Errorf("creating: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}
	err = tmp.Close()
	if err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	expiresAt := f.TimeNow().Add(ttl)
	err = os.Chtimes(tmp.Name(), expiresAt, expiresAt)
	if err != nil {
		return fmt.Errorf("setting expiration: %w", err)
	}

	err = os.Rename(tmp.Name(), path)
	if err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	return nil
}
