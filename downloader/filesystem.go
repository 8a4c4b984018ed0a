package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Caches downloaded files in a single JSON file on disk, so that
// repeated CLI invocations don't hit the network.
type Filesystem struct {
	Path    string
	TimeNow func() time.Time

	records map[string]fsRecord
	mutex   sync.Mutex
}

type fsRecord struct {
	Body        []byte    `json:"body"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

func NewFilesystem(path string) (*Filesystem, error) {
	fs := &Filesystem{
		Path:    path,
		TimeNow: time.Now,
		records: map[string]fsRecord{},
	}

	err := fs.load()
	if err != nil {
		return nil, err
	}

	return fs, nil
}

func (f *Filesystem) Get(
	ctx context.Context,
	url string,
	options GetOptions,
) ([]byte, error) {

	f.mutex.Lock()
	defer f.mutex.Unlock()

	if options.Cache {
		if record, found := f.records[url]; found {
			if record.RetrievedAt.Add(options.CacheTTL).After(f.TimeNow()) {
				return record.Body, nil
			}
		}
	}

	body, err := HTTPGet(ctx, url, options)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	if options.Cache {
		f.records[url] = fsRecord{
			Body:        body,
			RetrievedAt: f.TimeNow().UTC(),
		}
		err = f.save()
		if err != nil {
			return nil, fmt.Errorf("saving: %w", err)
		}
	}

	return body, nil
}

func (f *Filesystem) load() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	buf, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}

	err = json.Unmarshal(buf, &f.records)
	if err != nil {
		return fmt.Errorf("unmarshalling: %w", err)
	}

	return nil
}

// Writes to a temp file in the same directory first, so a crash
// never leaves a half written cache behind.
func (f *Filesystem) save() error {
	buf, err := json.Marshal(f.records)
	if err != nil {
		return fmt.Errorf("marshalling: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".download-cache-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		return fmt.Errorf("writing: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing: %w", err)
	}

	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("renaming: %w", err)
	}

	return nil
}
