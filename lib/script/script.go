// Package script obtains the vendor challenge script, preferring the
// durable cached copy. The script is large and stable between runs, so a
// download only happens on first use or when the caller forces a refresh
// after the vendor rotates it.
package script

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ipsleuth/ipsleuth"
	"github.com/ipsleuth/ipsleuth/internal"
	"github.com/ipsleuth/ipsleuth/lib/fault"
	"github.com/ipsleuth/ipsleuth/lib/store"
)

const maxScriptLength = 8 << 20 // 8 MiB

// Origin records where a script's bytes came from.
type Origin string

const (
	OriginCached     Origin = "cached"
	OriginDownloaded Origin = "downloaded"
)

// Script is the raw challenge script text plus its origin.
type Script struct {
	Body   string
	Origin Origin
}

// cacheEntry is the durable form of a downloaded script.
type cacheEntry struct {
	Body      string    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Source acquires challenge scripts, backed by the durable store.
type Source struct {
	client *http.Client
	cache  *store.JSON[cacheEntry]
	ttl    time.Duration
	ua     string
}

func NewSource(st store.Interface, client *http.Client, userAgent string) *Source {
	if client == nil {
		client = &http.Client{Timeout: ipsleuth.RequestTimeout}
	}
	if userAgent == "" {
		userAgent = ipsleuth.DefaultUserAgent
	}

	return &Source{
		client: client,
		cache:  &store.JSON[cacheEntry]{Underlying: st, Prefix: "script:"},
		ttl:    ipsleuth.ScriptCacheTTL,
		ua:     userAgent,
	}
}

func cacheKey(scriptURL string) string {
	return internal.FastHash(scriptURL)
}

// Acquire returns the challenge script for scriptURL. With forceRefresh
// it always downloads and overwrites the cached copy; otherwise the
// cached copy wins when one exists.
func (s *Source) Acquire(ctx context.Context, scriptURL string, forceRefresh bool) (Script, error) {
	key := cacheKey(scriptURL)

	if !forceRefresh {
		entry, err := s.cache.Get(ctx, key)
		switch {
		case err == nil:
			slog.Debug("challenge script served from cache", "url", scriptURL, "age", time.Since(entry.FetchedAt))
			return Script{Body: entry.Body, Origin: OriginCached}, nil
		case errors.Is(err, store.ErrNotFound):
			// fall through to download
		default:
			slog.Warn("can't read cached challenge script, downloading instead", "url", scriptURL, "err", err)
		}
	}

	body, err := s.download(ctx, scriptURL)
	if err != nil {
		return Script{}, err
	}

	if err := s.cache.Set(ctx, key, cacheEntry{Body: body, FetchedAt: time.Now()}, s.ttl); err != nil {
		// A failed cache write only costs the next run a download.
		slog.Warn("can't cache challenge script", "url", scriptURL, "err", err)
	}

	slog.Debug("challenge script downloaded", "url", scriptURL, "bytes", len(body))
	return Script{Body: body, Origin: OriginDownloaded}, nil
}

func (s *Source) download(ctx context.Context, scriptURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, scriptURL, nil)
	if err != nil {
		return "", fault.Wrap(fault.ScriptUnavailable, err, "can't build script download request")
	}
	req.Header.Set("User-Agent", s.ua)
	req.Header.Set("Accept", "*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fault.Wrap(fault.ScriptUnavailable, err, "can't download challenge script: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fault.WithStatus(fault.ScriptUnavailable, resp.StatusCode, "challenge script download answered with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxScriptLength))
	if err != nil {
		return "", fault.Wrap(fault.ScriptUnavailable, err, "can't read challenge script body")
	}

	if len(body) == 0 {
		return "", fault.New(fault.ScriptUnavailable, "challenge script download was empty")
	}

	return string(body), nil
}
