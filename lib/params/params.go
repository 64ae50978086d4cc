// Package params discovers the values the vendor challenge protocol
// needs: the nonce and difficulty the entry page assigns inline, and the
// URL of the challenge script itself.
package params

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/ipsleuth/ipsleuth"
	"github.com/ipsleuth/ipsleuth/lib/fault"
)

const maxEntryPageLength = 4 << 20 // 4 MiB, entry pages are tiny; anything bigger is not the page we think it is

// The entry page assigns the nonce and difficulty as global variables in
// an inline script and references the challenge script from the static
// bundle path. These shapes are part of the vendor protocol; when they
// stop matching, the protocol has changed and the whole pipeline must
// fail loudly rather than limp along.
var (
	nonceRe      = regexp.MustCompile(`\b` + ipsleuth.NonceGlobal + `\s*=\s*['"]([^'"]+)['"]`)
	difficultyRe = regexp.MustCompile(`\b` + ipsleuth.DifficultyGlobal + `\s*=\s*['"]?([0-9]+)['"]?`)
	scriptSrcRe  = regexp.MustCompile(`<script[^>]+src=["']((?:https?://[^"']+)?/static/js/[^"']+\.js)["']`)
)

// Challenge holds one acquisition attempt's worth of resolved protocol
// parameters. All three fields are non-empty by construction.
type Challenge struct {
	Nonce      string
	Difficulty string
	ScriptURL  string
}

// Resolver fetches the service entry page and extracts Challenge values
// from it.
type Resolver struct {
	client *http.Client
	root   *url.URL
	ua     string
}

func NewResolver(root *url.URL, client *http.Client, userAgent string) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: ipsleuth.RequestTimeout}
	}
	if userAgent == "" {
		userAgent = ipsleuth.DefaultUserAgent
	}

	return &Resolver{client: client, root: root, ua: userAgent}
}

// Resolve performs one GET against the service root and returns the
// challenge parameters, or a MissingParameters fault when any of the
// three values cannot be located.
func (r *Resolver) Resolve(ctx context.Context) (Challenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.root.String(), nil)
	if err != nil {
		return Challenge{}, fault.Wrap(fault.MissingParameters, err, "can't build entry page request")
	}
	req.Header.Set("User-Agent", r.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := r.client.Do(req)
	if err != nil {
		return Challenge{}, fault.FromTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Challenge{}, fault.WithStatus(fault.MissingParameters, resp.StatusCode, "entry page answered with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEntryPageLength))
	if err != nil {
		return Challenge{}, fault.Wrap(fault.MissingParameters, err, "can't read entry page")
	}

	return r.extract(string(body))
}

func (r *Resolver) extract(body string) (Challenge, error) {
	var missing []string

	result := Challenge{}

	if m := nonceRe.FindStringSubmatch(body); m != nil {
		result.Nonce = m[1]
	} else {
		missing = append(missing, "nonce")
	}

	if m := difficultyRe.FindStringSubmatch(body); m != nil {
		result.Difficulty = m[1]
	} else {
		missing = append(missing, "difficulty")
	}

	if m := scriptSrcRe.FindStringSubmatch(body); m != nil {
		src, err := r.resolveScriptURL(m[1])
		if err != nil {
			return Challenge{}, fault.Wrap(fault.MissingParameters, err, "challenge script URL is invalid: %q", m[1])
		}
		result.ScriptURL = src
	} else {
		missing = append(missing, "script reference")
	}

	if len(missing) != 0 {
		return Challenge{}, fault.New(fault.MissingParameters, "entry page is missing %v, the challenge protocol has likely changed", missing)
	}

	return result, nil
}

func (r *Resolver) resolveScriptURL(src string) (string, error) {
	u, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("can't parse script src: %w", err)
	}

	return r.root.ResolveReference(u).String(), nil
}
