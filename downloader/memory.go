package downloader

import (
	"context"
	"sync"
	"time"
)

// Caches downloaded files in memory. Expired entries are dropped
// when next looked up.
type MemoryDownloader struct {
	TimeNow func() time.Time

	mutex   sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		TimeNow: time.Now,
		entries: map[string]memoryEntry{},
	}
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	return cachedGet(ctx, d, url, headers, options)
}

func (d *MemoryDownloader) load(ctx context.Context, url string) ([]byte, bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	entry, found := d.entries[url]
	if !found {
		return nil, false, nil
	}
	if !entry.expiresAt.After(d.TimeNow()) {
		delete(d.entries, url)
		return nil, false, nil
	}
	return entry.body, true, nil
}

func (d *MemoryDownloader) store(ctx context.Context, url string, body []byte, ttl time.Duration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.entries[url] = memoryEntry{
		body:      body,
		expiresAt: d.TimeNow().Add(ttl),
	}
	return nil
}

// Number of entries held, expired or not.
func (d *MemoryDownloader) Len() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.entries)
}
