package downloader_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitbaseline.dev/gtfs/downloader"
)

// Serves "hello" at /hello, counting requests, and echoes the
// X-Test header at /echo.
func newServer(t *testing.T) (*httptest.Server, *int32) {
	count := int32(0)
	mux := http.NewServeMux()
	mux.HandleFunc("/hello", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.Write([]byte("hello"))
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Header.Get("X-Test")))
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &count
}

func TestHTTPGet(t *testing.T) {
	server, _ := newServer(t)
	ctx := context.Background()

	body, err := downloader.HTTPGet(ctx, server.URL+"/hello", downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	// Headers are passed along
	body, err = downloader.HTTPGet(ctx, server.URL+"/echo", downloader.GetOptions{
		Headers: map[string]string{"X-Test": "foo"},
	})
	require.NoError(t, err)
	assert.Equal(t, "foo", string(body))

	// Non-200 is a StatusError
	_, err = downloader.HTTPGet(ctx, server.URL+"/missing", downloader.GetOptions{})
	var statusErr *downloader.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)

	// Size limit is inclusive
	body, err = downloader.HTTPGet(ctx, server.URL+"/hello", downloader.GetOptions{MaxSize: 5})
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	_, err = downloader.HTTPGet(ctx, server.URL+"/hello", downloader.GetOptions{MaxSize: 4})
	assert.True(t, errors.Is(err, downloader.ErrTooLarge))
}

func TestMemoryDownloaderCaching(t *testing.T) {
	server, count := newServer(t)
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	d := downloader.NewMemoryDownloader()
	d.TimeNow = func() time.Time { return now }

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Minute}

	for i := 0; i < 3; i++ {
		body, err := d.Get(ctx, server.URL+"/hello", opts)
		require.NoError(t, err)
		assert.Equal(t, "hello", string(body))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(count))

	// Expired
	now = now.Add(2 * time.Minute)
	_, err := d.Get(ctx, server.URL+"/hello", opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(count))

	// Evicted
	d.Evict(server.URL + "/hello")
	_, err = d.Get(ctx, server.URL+"/hello", opts)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(count))

	// Without caching, every call is a request
	_, err = d.Get(ctx, server.URL+"/hello", downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, int32(4), atomic.LoadInt32(count))
}

func TestMemoryDownloaderFetchOverride(t *testing.T) {
	d := downloader.NewMemoryDownloader()
	d.Fetch = func(ctx context.Context, url string, options downloader.GetOptions) ([]byte, error) {
		if url == "bad" {
			return nil, fmt.Errorf("nope")
		}
		return []byte("fetched " + url), nil
	}

	body, err := d.Get(context.Background(), "foo", downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fetched foo", string(body))

	_, err = d.Get(context.Background(), "bad", downloader.GetOptions{Cache: true})
	assert.Error(t, err)
}

func TestFilesystemDownloader(t *testing.T) {
	server, count := newServer(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.json")

	opts := downloader.GetOptions{Cache: true, CacheTTL: time.Hour}

	fs, err := downloader.NewFilesystem(path)
	require.NoError(t, err)
	body, err := fs.Get(ctx, server.URL+"/hello", opts)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(count))

	// A second instance picks up the cached copy from disk
	fs2, err := downloader.NewFilesystem(path)
	require.NoError(t, err)
	body, err = fs2.Get(ctx, server.URL+"/hello", opts)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, int32(1), atomic.LoadInt32(count))

	// Until it expires
	fs2.TimeNow = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = fs2.Get(ctx, server.URL+"/hello", opts)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(count))

	// Errors are not cached
	_, err = fs2.Get(ctx, server.URL+"/missing", opts)
	assert.Error(t, err)
}

func TestCKANResolve(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/3/action/package_show", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("id") {
		case "merged-gtfs":
			w.Write([]byte(`{
  "success": true,
  "result": {
    "name": "merged-gtfs",
    "resources": [
      {"id": "1", "name": "readme", "format": "PDF", "url": "https://example.com/readme.pdf"},
      {"id": "2", "name": "gtfs", "format": "ZIP", "url": "https://example.com/gtfs.zip"},
      {"id": "3", "name": "old gtfs", "format": "zip", "url": "https://example.com/old.zip"}
    ]
  }
}`))
		case "no-zip":
			w.Write([]byte(`{"success": true, "result": {"resources": [{"format": "CSV", "url": "https://example.com/x.csv"}]}}`))
		case "broken":
			w.Write([]byte(`{"success": tru`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success": false, "error": {"message": "Not found"}}`))
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ctx := context.Background()
	d := downloader.NewMemoryDownloader()

	// Trailing slash on base URL is fine
	zipURL, err := downloader.ResolveCKANZip(ctx, d, server.URL+"/", "merged-gtfs", downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/gtfs.zip", zipURL)

	resources, err := downloader.CKANResources(ctx, d, server.URL, "merged-gtfs", downloader.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, len(resources))
	assert.Equal(t, "readme", resources[0].Name)

	_, err = downloader.ResolveCKANZip(ctx, d, server.URL, "no-zip", downloader.GetOptions{})
	assert.True(t, errors.Is(err, downloader.ErrNoZipResource))

	_, err = downloader.ResolveCKANZip(ctx, d, server.URL, "broken", downloader.GetOptions{})
	assert.Error(t, err)

	_, err = downloader.ResolveCKANZip(ctx, d, server.URL, "unknown", downloader.GetOptions{})
	var statusErr *downloader.StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestCKANPackageURL(t *testing.T) {
	assert.Equal(
		t,
		"https://ckan.example/api/3/action/package_show?id=a+b%2Fc",
		downloader.CKANPackageURL("https://ckan.example//", "a b/c"),
	)
}
