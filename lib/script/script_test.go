package script

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipsleuth/ipsleuth/lib/fault"
	"github.com/ipsleuth/ipsleuth/lib/store/memory"
)

func TestAcquire(t *testing.T) {
	var downloads atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Write([]byte("var x = 1;"))
	}))
	defer srv.Close()

	src := NewSource(memory.New(t.Context()), srv.Client(), "")

	first, err := src.Acquire(t.Context(), srv.URL+"/static/js/c.js", false)
	if err != nil {
		t.Fatal(err)
	}

	if first.Origin != OriginDownloaded {
		t.Errorf("first acquire: want origin %q, got %q", OriginDownloaded, first.Origin)
	}

	second, err := src.Acquire(t.Context(), srv.URL+"/static/js/c.js", false)
	if err != nil {
		t.Fatal(err)
	}

	if second.Origin != OriginCached {
		t.Errorf("second acquire: want origin %q, got %q", OriginCached, second.Origin)
	}

	if second.Body != first.Body {
		t.Errorf("cached body differs from downloaded body: %q vs %q", second.Body, first.Body)
	}

	if got := downloads.Load(); got != 1 {
		t.Errorf("want exactly 1 download, got %d", got)
	}

	forced, err := src.Acquire(t.Context(), srv.URL+"/static/js/c.js", true)
	if err != nil {
		t.Fatal(err)
	}

	if forced.Origin != OriginDownloaded {
		t.Errorf("forced acquire: want origin %q, got %q", OriginDownloaded, forced.Origin)
	}

	if got := downloads.Load(); got != 2 {
		t.Errorf("want 2 downloads after force refresh, got %d", got)
	}
}

func TestAcquireStoresTypedEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("var x = 1;"))
	}))
	defer srv.Close()

	st := memory.New(t.Context())
	src := NewSource(st, srv.Client(), "")
	scriptURL := srv.URL + "/static/js/c.js"

	if _, err := src.Acquire(t.Context(), scriptURL, false); err != nil {
		t.Fatal(err)
	}

	raw, err := st.Get(t.Context(), "script:"+cacheKey(scriptURL))
	if err != nil {
		t.Fatalf("cached script not stored under its key: %v", err)
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		t.Fatalf("cached value is not a JSON entry: %v", err)
	}
	if entry.Body != "var x = 1;" {
		t.Errorf("wrong cached body: %q", entry.Body)
	}
	if entry.FetchedAt.IsZero() {
		t.Error("cached entry has no fetch time")
	}
}

func TestAcquireCorruptCacheRedownloads(t *testing.T) {
	var downloads atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads.Add(1)
		w.Write([]byte("var x = 1;"))
	}))
	defer srv.Close()

	st := memory.New(t.Context())
	src := NewSource(st, srv.Client(), "")
	scriptURL := srv.URL + "/static/js/c.js"

	if err := st.Set(t.Context(), "script:"+cacheKey(scriptURL), []byte("}"), time.Minute); err != nil {
		t.Fatal(err)
	}

	sc, err := src.Acquire(t.Context(), scriptURL, false)
	if err != nil {
		t.Fatalf("corrupt cache entry was not ignored: %v", err)
	}
	if sc.Origin != OriginDownloaded {
		t.Errorf("want origin %q, got %q", OriginDownloaded, sc.Origin)
	}
	if got := downloads.Load(); got != 1 {
		t.Errorf("want 1 download, got %d", got)
	}
}

func TestAcquireDownloadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src := NewSource(memory.New(t.Context()), srv.Client(), "")

	_, err := src.Acquire(t.Context(), srv.URL+"/static/js/c.js", false)
	if !errors.Is(err, fault.Sentinel(fault.ScriptUnavailable)) {
		t.Fatalf("wanted script_unavailable, got: %v", err)
	}

	var ferr *fault.Error
	if errors.As(err, &ferr) && ferr.StatusCode != http.StatusBadGateway {
		t.Errorf("wanted mirrored status %d, got %d", http.StatusBadGateway, ferr.StatusCode)
	}
}

func TestAcquireEmptyScript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	src := NewSource(memory.New(t.Context()), srv.Client(), "")

	if _, err := src.Acquire(t.Context(), srv.URL+"/static/js/c.js", false); err == nil {
		t.Fatal("wanted empty script download to fail")
	}
}
