package gtfs

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"transitbaseline.dev/gtfs/downloader"
	"transitbaseline.dev/gtfs/metrics"
	"transitbaseline.dev/gtfs/parse"
	"transitbaseline.dev/gtfs/storage"
)

const (
	DefaultStaticTimeout = 60 * time.Second
	DefaultStaticMaxSize = 800 << 20 // 800 MB
	DefaultCKANTimeout   = 30 * time.Second
	DefaultCKANMaxSize   = 4 << 20 // 4 MB
)

var ErrNoFeed = errors.New("no feed loaded")

// Manager acquires static GTFS feeds, parses them into storage and
// hands out Static views of them.
//
// Feeds are keyed on the sha256 of their content, so loading the same
// data twice (from the same URL or not) only parses it once.
type Manager struct {
	StaticTimeout time.Duration
	StaticMaxSize int64
	StaticHeaders map[string]string
	Downloader    downloader.Downloader

	// If positive, CKAN package listings are cached by the
	// Downloader for this long. Feed archives never are.
	CKANCacheTTL time.Duration

	// Passed to every Static created.
	StaticOptions []Option

	// Optional
	Metrics *metrics.Collector

	TimeNow func() time.Time

	storage storage.Storage
}

// Creates a new Manager of GTFS data, on top of the given storage.
func NewManager(s storage.Storage, opts ...Option) *Manager {
	return &Manager{
		StaticTimeout: DefaultStaticTimeout,
		StaticMaxSize: DefaultStaticMaxSize,
		Downloader:    downloader.NewMemoryDownloader(),
		StaticOptions: opts,
		TimeNow:       time.Now,
		storage:       s,
	}
}

// Downloads a zipped feed and loads it.
func (m *Manager) LoadStatic(ctx context.Context, url string) (*Static, error) {
	static, err := m.loadStatic(ctx, url)
	m.observeLoad("url", err)
	return static, err
}

func (m *Manager) loadStatic(ctx context.Context, url string) (*Static, error) {
	body, err := m.Downloader.Get(ctx, url, downloader.GetOptions{
		Timeout: m.StaticTimeout,
		MaxSize: m.StaticMaxSize,
		Headers: m.StaticHeaders,
	})
	if err != nil {
		return nil, fmt.Errorf("downloading feed at %s: %w", url, err)
	}

	hash := fmt.Sprintf("%x", sha256.Sum256(body))

	metadata, err := m.ingest(url, hash, func(writer storage.FeedWriter) (*storage.FeedMetadata, error) {
		return parse.ParseStatic(writer, body)
	})
	if err != nil {
		return nil, err
	}

	return m.open(metadata)
}

// Loads a feed already extracted to a directory.
func (m *Manager) LoadStaticDir(dir string) (*Static, error) {
	static, err := m.loadStaticDir(dir)
	m.observeLoad("dir", err)
	return static, err
}

func (m *Manager) loadStaticDir(dir string) (*Static, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	// Hash the files we'd actually parse
	h := sha256.New()
	for _, name := range parse.RequiredFiles {
		buf, err := os.ReadFile(filepath.Join(abs, name))
		if errors.Is(err, os.ErrNotExist) {
			return nil, &parse.MissingFileError{File: name}
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		fmt.Fprintf(h, "%s:%d:", name, len(buf))
		h.Write(buf)
	}
	hash := fmt.Sprintf("%x", h.Sum(nil))

	metadata, err := m.ingest("file://"+filepath.ToSlash(abs), hash, func(writer storage.FeedWriter) (*storage.FeedMetadata, error) {
		return parse.ParseStaticDir(writer, abs)
	})
	if err != nil {
		return nil, err
	}

	return m.open(metadata)
}

// Resolves the first ZIP resource of a CKAN package and loads it.
func (m *Manager) LoadCKAN(ctx context.Context, baseURL string, packageID string) (*Static, error) {
	static, err := m.loadCKAN(ctx, baseURL, packageID)
	m.observeLoad("ckan", err)
	return static, err
}

func (m *Manager) loadCKAN(ctx context.Context, baseURL string, packageID string) (*Static, error) {
	url, err := downloader.ResolveCKANZip(ctx, m.Downloader, baseURL, packageID, downloader.GetOptions{
		Timeout:  DefaultCKANTimeout,
		MaxSize:  DefaultCKANMaxSize,
		Cache:    m.CKANCacheTTL > 0,
		CacheTTL: m.CKANCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("resolving ckan package: %w", err)
	}
	log.Printf("package %s resolved to %s", packageID, url)

	return m.loadStatic(ctx, url)
}

// Returns the most recently retrieved feed in storage, or ErrNoFeed.
func (m *Manager) Latest() (*Static, error) {
	static, err := m.latest()
	m.observeLoad("storage", err)
	return static, err
}

func (m *Manager) latest() (*Static, error) {
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	if len(feeds) == 0 {
		return nil, ErrNoFeed
	}
	return m.open(feeds[0])
}

// Makes sure the feed with the given hash is in storage, parsing it
// with parseFn unless it already is, and records a metadata entry
// for url.
func (m *Manager) ingest(
	url string,
	hash string,
	parseFn func(storage.FeedWriter) (*storage.FeedMetadata, error),
) (*storage.FeedMetadata, error) {

	now := m.TimeNow().UTC()

	// The data may already exist in storage, possibly under
	// another URL.
	feeds, err := m.storage.ListFeeds(storage.ListFeedsFilter{Hash: hash})
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}

	var metadata *storage.FeedMetadata
	if len(feeds) > 0 {
		log.Printf("feed %s already in storage (%s)", hash[:12], feeds[0].URL)
		copied := *feeds[0]
		metadata = &copied
	} else {
		writer, err := m.storage.GetWriter(hash)
		if err != nil {
			return nil, fmt.Errorf("getting writer: %w", err)
		}

		metadata, err = parseFn(writer)
		if err != nil {
			return nil, fmt.Errorf("parsing: %w", err)
		}
		metadata.Hash = hash

		log.Printf(
			"parsed feed %s from %s: calendar %s-%s, %d orphans, %d malformed times",
			hash[:12], url,
			metadata.CalendarStartDate, metadata.CalendarEndDate,
			metadata.Orphans, metadata.MalformedTimes,
		)
	}

	metadata.URL = url
	metadata.RetrievedAt = now

	err = m.storage.WriteFeedMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	return metadata, nil
}

func (m *Manager) open(metadata *storage.FeedMetadata) (*Static, error) {
	reader, err := m.storage.GetReader(metadata.Hash)
	if err != nil {
		return nil, fmt.Errorf("getting reader: %w", err)
	}

	static, err := NewStatic(reader, metadata, m.StaticOptions...)
	if err != nil {
		return nil, fmt.Errorf("creating static: %w", err)
	}

	if m.Metrics != nil {
		m.Metrics.SetFeed(metrics.FeedSize{
			Stops:          len(static.stops),
			Routes:         len(static.routes),
			Trips:          len(static.trips),
			Orphans:        metadata.Orphans,
			MalformedTimes: metadata.MalformedTimes,
			LoadedAt:       m.TimeNow(),
		})
	}

	return static, nil
}

func (m *Manager) observeLoad(source string, err error) {
	if err != nil {
		log.Printf("loading feed (%s): %v", source, err)
	}
	if m.Metrics != nil {
		m.Metrics.ObserveFeedLoad(source, err)
	}
}
