package extract

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ipsleuth/ipsleuth"
	"github.com/ipsleuth/ipsleuth/lib/fault"
	"github.com/ipsleuth/ipsleuth/lib/sandbox"
)

var testCreds = sandbox.Credentials{SessionKey: "sess-key", ProofToken: "proof-tok"}

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	root, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("can't parse server URL: %v", err)
	}

	return NewClient(root, srv.Client(), "")
}

func TestLookupSendsCredentials(t *testing.T) {
	var gotPath string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path

		if sess, err := r.Cookie(ipsleuth.SessionKeyCookie); err != nil || sess.Value != testCreds.SessionKey {
			t.Errorf("session cookie not sent: %v", err)
		}
		if proof, err := r.Cookie(ipsleuth.ProofTokenCookie); err != nil || proof.Value != testCreds.ProofToken {
			t.Errorf("proof cookie not sent: %v", err)
		}
		if ua := r.Header.Get("User-Agent"); ua != ipsleuth.DefaultUserAgent {
			t.Errorf("wrong User-Agent: %q", ua)
		}

		w.Write([]byte(resultPage))
	}))

	rec, err := c.Lookup(t.Context(), testCreds, "203.0.113.7")
	if err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}

	if gotPath != "/ip/203.0.113.7" {
		t.Errorf("wrong query path: %q", gotPath)
	}
	if rec.IP != "203.0.113.7" {
		t.Errorf("wrong IP in record: %q", rec.IP)
	}
	if rec.Source != Attribution {
		t.Errorf("wrong source: %q", rec.Source)
	}
}

func TestLookupSelfQueriesRoot(t *testing.T) {
	var gotPath string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(resultPage))
	}))

	if _, err := c.Lookup(t.Context(), testCreds, ""); err != nil {
		t.Fatalf("Lookup() failed: %v", err)
	}
	if gotPath != "/" {
		t.Errorf("self lookup did not hit the root page: %q", gotPath)
	}
}

func TestLookupStatusFaults(t *testing.T) {
	for _, tt := range []struct {
		status   int
		wantCode fault.Code
	}{
		{http.StatusTooManyRequests, fault.UpstreamRateLimited},
		{http.StatusForbidden, fault.UpstreamForbidden},
		{http.StatusNotFound, fault.UpstreamNotFound},
		{http.StatusBadGateway, fault.UpstreamServerError},
	} {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			_, err := c.Lookup(t.Context(), testCreds, "203.0.113.7")

			var ferr *fault.Error
			if !errors.As(err, &ferr) {
				t.Fatalf("error is not a fault: %v", err)
			}
			if ferr.Code != tt.wantCode {
				t.Errorf("wrong code: got %s, want %s", ferr.Code, tt.wantCode)
			}
			if ferr.StatusCode != tt.status {
				t.Errorf("status not mirrored: got %d, want %d", ferr.StatusCode, tt.status)
			}
		})
	}
}

func TestLookupRejectsIncompleteCredentials(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached upstream despite incomplete credentials")
	}))

	_, err := c.Lookup(t.Context(), sandbox.Credentials{SessionKey: "only-one"}, "203.0.113.7")
	if !errors.Is(err, fault.Sentinel(fault.IncompleteCredentials)) {
		t.Errorf("wrong error: %v", err)
	}
}

func TestLookupTransportFault(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	root, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("can't parse server URL: %v", err)
	}
	srv.Close()

	c := NewClient(root, nil, "")

	_, err = c.Lookup(t.Context(), testCreds, "203.0.113.7")

	var ferr *fault.Error
	if !errors.As(err, &ferr) {
		t.Fatalf("error is not a fault: %v", err)
	}
	switch ferr.Code {
	case fault.TransportRefused, fault.TransportUnreachable:
	default:
		t.Errorf("wrong code for a dead upstream: %s", ferr.Code)
	}
}
