package downloader

import (
	"context"
	"sync"
	"time"
)

// Caches downloaded files in memory, keyed on URL.
type MemoryDownloader struct {
	mutex sync.Mutex
	cache map[string]memoryEntry

	TimeNow func() time.Time

	// Does the actual fetching. Defaults to HTTPGet.
	Fetch func(ctx context.Context, url string, options GetOptions) ([]byte, error)
}

type memoryEntry struct {
	data       []byte
	expiration time.Time
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		cache:   map[string]memoryEntry{},
		TimeNow: time.Now,
		Fetch:   HTTPGet,
	}
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	options GetOptions,
) ([]byte, error) {
	if options.Cache {
		d.mutex.Lock()
		entry, ok := d.cache[url]
		d.mutex.Unlock()

		if ok && entry.expiration.After(d.TimeNow()) {
			return entry.data, nil
		}
	}

	body, err := d.Fetch(ctx, url, options)
	if err != nil {
		return nil, err
	}

	if options.Cache {
		d.mutex.Lock()
		d.cache[url] = memoryEntry{
			data:       body,
			expiration: d.TimeNow().Add(options.CacheTTL),
		}
		d.mutex.Unlock()
	}

	return body, nil
}

// Drops any cached copy of url.
func (d *MemoryDownloader) Evict(url string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.cache, url)
}
