// Package ipsleuth holds constants shared between the library and the
// command line interface.
package ipsleuth

import "time"

// Version is the current release tag. Overridden at build time via
// -ldflags "-X github.com/ipsleuth/ipsleuth.Version=...".
var Version = "devel"

const (
	// DefaultServiceRoot is the network-identity service every lookup
	// goes through.
	DefaultServiceRoot = "https://ping0.cc"

	// SessionKeyCookie and ProofTokenCookie are the two cookies the
	// vendor challenge script derives. Requests carrying both are
	// accepted by the service without being re-challenged.
	SessionKeyCookie = "js1key"
	ProofTokenCookie = "pow"

	// NonceGlobal and DifficultyGlobal are the global bindings the
	// challenge script reads. The entry page assigns them inline.
	NonceGlobal      = "x1"
	DifficultyGlobal = "x2d"

	// DefaultUserAgent is the fixed browser identity used on every
	// outbound request and reported inside the sandbox. The two must
	// agree or the challenge script rejects the environment.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// RequestTimeout bounds each of the three outbound requests: entry
	// page, script download and the credentialed query.
	RequestTimeout = 10 * time.Second

	// SolvePrimaryTimeout is when an acquisition fails soft with empty
	// credentials. SolveBackupTimeout guarantees resolution even if
	// teardown after the primary timeout stalls inside the VM.
	SolvePrimaryTimeout = 15 * time.Second
	SolveBackupTimeout  = 20 * time.Second

	// ScriptCacheTTL is how long a downloaded challenge script stays in
	// the durable store before a lookup re-downloads it.
	ScriptCacheTTL = 30 * 24 * time.Hour
)
