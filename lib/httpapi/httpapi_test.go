package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ipsleuth/ipsleuth/lib/extract"
	"github.com/ipsleuth/ipsleuth/lib/fault"
)

// fakePipeline answers canned results keyed by target.
type fakePipeline struct {
	records map[string]*extract.Record
	err     error

	lastTarget string
	lastForce  bool
}

func (f *fakePipeline) Run(ctx context.Context, target string, forceRefresh bool) (*extract.Record, error) {
	f.lastTarget = target
	f.lastForce = forceRefresh

	if f.err != nil {
		return nil, f.err
	}
	if rec, ok := f.records[target]; ok {
		return rec, nil
	}
	return nil, fault.New(fault.EmptyResult, "no record for %s", target)
}

func testServer(t *testing.T, fp *fakePipeline, opts Options) *httptest.Server {
	t.Helper()

	opts.Pipeline = fp
	srv := httptest.NewServer(New(opts).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, header http.Header) *http.Response {
	t.Helper()

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+path, nil)
	if err != nil {
		t.Fatalf("can't build request: %v", err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}

	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestQueryReturnsRecord(t *testing.T) {
	fp := &fakePipeline{records: map[string]*extract.Record{
		"1.1.1.1": {IP: "1.1.1.1", IPLocation: "Example Land", Source: extract.Attribution},
	}}
	srv := testServer(t, fp, Options{})

	resp := get(t, srv, "/query?ip=1.1.1.1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wrong status: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("wrong content type: %q", ct)
	}

	var rec extract.Record
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("can't decode response: %v", err)
	}
	if rec.IP != "1.1.1.1" || rec.Source != extract.Attribution {
		t.Errorf("wrong record: %+v", rec)
	}
}

func TestQueryPassesForceRefresh(t *testing.T) {
	fp := &fakePipeline{records: map[string]*extract.Record{"1.1.1.1": {IP: "1.1.1.1"}}}
	srv := testServer(t, fp, Options{})

	get(t, srv, "/query?ip=1.1.1.1&force_refresh=true", nil)

	if fp.lastTarget != "1.1.1.1" || !fp.lastForce {
		t.Errorf("pipeline called with target=%q force=%v", fp.lastTarget, fp.lastForce)
	}
}

func TestQueryErrorStatuses(t *testing.T) {
	for _, tt := range []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"empty result", fault.New(fault.EmptyResult, "nothing"), http.StatusNotFound},
		{"rate limited upstream", fault.WithStatus(fault.UpstreamRateLimited, 429, "slow down"), 429},
		{"timeout", fault.New(fault.TransportTimeout, "timed out"), http.StatusGatewayTimeout},
		{"missing parameters", fault.New(fault.MissingParameters, "page changed"), http.StatusBadGateway},
		{"dns", fault.New(fault.DnsFailure, "no such host"), http.StatusBadGateway},
	} {
		t.Run(tt.name, func(t *testing.T) {
			srv := testServer(t, &fakePipeline{err: tt.err}, Options{})

			resp := get(t, srv, "/query?ip=1.1.1.1", nil)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("wrong status: got %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			var body struct {
				Message string `json:"message"`
				Status  int    `json:"status"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("can't decode error body: %v", err)
			}
			if body.Status != tt.wantStatus || body.Message == "" {
				t.Errorf("wrong error body: %+v", body)
			}
		})
	}
}

func TestStaticBearerToken(t *testing.T) {
	fp := &fakePipeline{records: map[string]*extract.Record{"1.1.1.1": {IP: "1.1.1.1"}}}
	srv := testServer(t, fp, Options{BearerToken: "hunter2"})

	if resp := get(t, srv, "/query?ip=1.1.1.1", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token accepted: %d", resp.StatusCode)
	}

	hdr := http.Header{"Authorization": []string{"Bearer wrong"}}
	if resp := get(t, srv, "/query?ip=1.1.1.1", hdr); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong token accepted: %d", resp.StatusCode)
	}

	hdr = http.Header{"Authorization": []string{"Bearer hunter2"}}
	if resp := get(t, srv, "/query?ip=1.1.1.1", hdr); resp.StatusCode != http.StatusOK {
		t.Errorf("valid token rejected: %d", resp.StatusCode)
	}
}

func TestJWTBearer(t *testing.T) {
	secret := []byte("signing-secret")
	fp := &fakePipeline{records: map[string]*extract.Record{"1.1.1.1": {IP: "1.1.1.1"}}}
	srv := testServer(t, fp, Options{HS512Secret: secret})

	sign := func(t *testing.T, method jwt.SigningMethod, key any, exp time.Time) string {
		t.Helper()
		tok, err := jwt.NewWithClaims(method, jwt.MapClaims{"exp": exp.Unix()}).SignedString(key)
		if err != nil {
			t.Fatalf("can't sign token: %v", err)
		}
		return tok
	}

	good := sign(t, jwt.SigningMethodHS512, secret, time.Now().Add(time.Hour))
	hdr := http.Header{"Authorization": []string{"Bearer " + good}}
	if resp := get(t, srv, "/query?ip=1.1.1.1", hdr); resp.StatusCode != http.StatusOK {
		t.Errorf("valid JWT rejected: %d", resp.StatusCode)
	}

	expired := sign(t, jwt.SigningMethodHS512, secret, time.Now().Add(-time.Hour))
	hdr = http.Header{"Authorization": []string{"Bearer " + expired}}
	if resp := get(t, srv, "/query?ip=1.1.1.1", hdr); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expired JWT accepted: %d", resp.StatusCode)
	}

	wrongAlg := sign(t, jwt.SigningMethodHS256, secret, time.Now().Add(time.Hour))
	hdr = http.Header{"Authorization": []string{"Bearer " + wrongAlg}}
	if resp := get(t, srv, "/query?ip=1.1.1.1", hdr); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("HS256 JWT accepted: %d", resp.StatusCode)
	}

	wrongKey := sign(t, jwt.SigningMethodHS512, []byte("other"), time.Now().Add(time.Hour))
	hdr = http.Header{"Authorization": []string{"Bearer " + wrongKey}}
	if resp := get(t, srv, "/query?ip=1.1.1.1", hdr); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("JWT with the wrong key accepted: %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := testServer(t, &fakePipeline{}, Options{BearerToken: "hunter2"})

	resp := get(t, srv, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("wrong status: %d", resp.StatusCode)
	}
}

func TestQueryPost(t *testing.T) {
	fp := &fakePipeline{records: map[string]*extract.Record{"1.1.1.1": {IP: "1.1.1.1"}}}
	srv := testServer(t, fp, Options{})

	resp, err := srv.Client().Post(srv.URL+"/query", "application/x-www-form-urlencoded",
		strings.NewReader(url.Values{"ip": {"1.1.1.1"}}.Encode()))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("wrong status: %d", resp.StatusCode)
	}
	if fp.lastTarget != "1.1.1.1" {
		t.Errorf("form target not read: %q", fp.lastTarget)
	}
}
