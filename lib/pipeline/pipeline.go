// Package pipeline chains challenge parameter resolution, script
// acquisition, sandboxed solving and the credentialed query into one
// operation.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/ipsleuth/ipsleuth"
	"github.com/ipsleuth/ipsleuth/lib/extract"
	"github.com/ipsleuth/ipsleuth/lib/fault"
	"github.com/ipsleuth/ipsleuth/lib/params"
	"github.com/ipsleuth/ipsleuth/lib/sandbox"
	"github.com/ipsleuth/ipsleuth/lib/script"
	"github.com/ipsleuth/ipsleuth/lib/store"
	"golang.org/x/net/publicsuffix"
)

// Options configures a Pipeline. Store is the only required field.
type Options struct {
	// Root is the service base URL. Defaults to the public instance.
	Root *url.URL

	// Client is shared by every HTTP exchange in a run so the entry
	// page, the script download and the query present one identity.
	Client *http.Client

	// Store caches challenge scripts across runs.
	Store store.Interface

	// UserAgent is sent on the wire and reported inside the sandbox.
	UserAgent string

	// Verbose surfaces suppressed script errors and disarmed calls.
	Verbose bool
}

// Pipeline runs challenge acquisitions and credentialed queries. Safe
// for concurrent use; runs share the script cache and nothing else.
type Pipeline struct {
	resolver *params.Resolver
	scripts  *script.Source
	engine   *sandbox.Engine
	query    *extract.Client
}

func New(opts Options) (*Pipeline, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: a script store is required")
	}

	root := opts.Root
	if root == nil {
		var err error
		root, err = url.Parse(ipsleuth.DefaultServiceRoot)
		if err != nil {
			return nil, err
		}
	}

	client := opts.Client
	if client == nil {
		// Server-set cookies from the entry page must carry into the
		// script download and the query, so the default client gets a
		// real jar.
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, err
		}
		client = &http.Client{Timeout: ipsleuth.RequestTimeout, Jar: jar}
	}

	return &Pipeline{
		resolver: params.NewResolver(root, client, opts.UserAgent),
		scripts:  script.NewSource(opts.Store, client, opts.UserAgent),
		engine:   sandbox.NewEngine(opts.UserAgent, opts.Verbose),
		query:    extract.NewClient(root, client, opts.UserAgent),
	}, nil
}

// Run performs one full acquisition and query for target. An empty
// target queries the caller's own address. With forceRefresh the
// challenge script cache is bypassed and overwritten.
func (p *Pipeline) Run(ctx context.Context, target string, forceRefresh bool) (*extract.Record, error) {
	start := time.Now()

	rec, err := p.run(ctx, target, forceRefresh)

	runDuration.Observe(time.Since(start).Seconds())
	runOutcomes.WithLabelValues(outcome(err)).Inc()

	return rec, err
}

func (p *Pipeline) run(ctx context.Context, target string, forceRefresh bool) (*extract.Record, error) {
	if name := reservedRange(target); name != "" {
		return nil, fault.New(fault.EmptyResult, "%s is a %s address, upstream has no data for it", target, name)
	}

	chal, err := p.resolver.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	sc, err := p.scripts.Acquire(ctx, chal.ScriptURL, forceRefresh)
	if err != nil {
		return nil, err
	}

	creds := p.engine.Solve(chal, sc)
	if !creds.Complete() {
		// Nothing is retried here. A stale cached script is the usual
		// cause and the caller holds the forced-refresh switch for it.
		return nil, fault.New(fault.IncompleteCredentials, "challenge script did not produce both credentials")
	}

	return p.query.Lookup(ctx, creds, target)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}

	var ferr *fault.Error
	if errors.As(err, &ferr) {
		return string(ferr.Code)
	}
	return "error"
}
