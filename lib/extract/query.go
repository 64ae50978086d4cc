// Package extract issues the credentialed query against the
// network-identity service and parses the answer into a normalized
// record through a layered, best-effort strategy chain.
package extract

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ipsleuth/ipsleuth"
	"github.com/ipsleuth/ipsleuth/lib/fault"
	"github.com/ipsleuth/ipsleuth/lib/sandbox"
)

const maxContentLength = 16 << 20 // 16 MiB

// Client performs credentialed lookups.
type Client struct {
	hc   *http.Client
	root *url.URL
	ua   string
}

func NewClient(root *url.URL, hc *http.Client, userAgent string) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: ipsleuth.RequestTimeout}
	}
	if userAgent == "" {
		userAgent = ipsleuth.DefaultUserAgent
	}

	return &Client{hc: hc, root: root, ua: userAgent}
}

// Lookup queries the service for target (or, with an empty target, for
// the caller's own address) using the given credentials and returns the
// normalized record.
//
// Callers are expected to have checked the credentials already; the
// defensive check here keeps a broken caller from burning an upstream
// request that can only fail.
func (c *Client) Lookup(ctx context.Context, creds sandbox.Credentials, target string) (*Record, error) {
	if !creds.Complete() {
		return nil, fault.New(fault.IncompleteCredentials, "challenge acquisition did not produce both credentials")
	}

	u := c.root
	if target != "" {
		u = c.root.JoinPath("ip", target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fault.Wrap(fault.UnrecognizedPage, err, "can't build query request")
	}

	req.Header.Set("User-Agent", c.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	req.AddCookie(&http.Cookie{Name: ipsleuth.SessionKeyCookie, Value: creds.SessionKey})
	req.AddCookie(&http.Cookie{Name: ipsleuth.ProofTokenCookie, Value: creds.ProofToken})

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fault.FromTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fault.FromStatus(resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxContentLength))
	if err != nil {
		return nil, fault.Wrap(fault.UnrecognizedPage, err, "can't read query response")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fault.Wrap(fault.UnrecognizedPage, err, "can't parse query response")
	}

	return Extract(doc, string(body))
}
