// Package sandbox runs the vendor challenge script inside a disposable
// goja VM that looks enough like a browser for the script's
// credential-producing code path to complete, while its navigation and
// window side effects are disarmed.
//
// Solve never fails: a challenge that does not produce both credentials
// within the time budget resolves with empty credentials, so downstream
// code has a single present/absent check instead of an error taxonomy of
// its own.
package sandbox

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"github.com/ipsleuth/ipsleuth"
	"github.com/ipsleuth/ipsleuth/lib/params"
	"github.com/ipsleuth/ipsleuth/lib/script"
)

// Credentials is the pair of values the challenge script derives. Either
// both fields are populated or both are empty; a partial pair is never a
// terminal state.
type Credentials struct {
	SessionKey string
	ProofToken string
}

// Complete reports whether both credential values were observed.
func (c Credentials) Complete() bool {
	return c.SessionKey != "" && c.ProofToken != ""
}

// Engine executes challenge scripts. The zero value is not usable; use
// NewEngine.
type Engine struct {
	// PrimaryTimeout is when an acquisition fails soft. BackupTimeout
	// fires even if teardown after the primary timeout stalls inside a
	// native call, guaranteeing Solve always returns.
	PrimaryTimeout time.Duration
	BackupTimeout  time.Duration

	// UserAgent is the identity string the sandboxed navigator reports.
	// It must match the one used on the wire or the script's environment
	// checks diverge from what the server saw.
	UserAgent string

	// Verbose enables logging of suppressed script errors and disarmed
	// side-effect calls.
	Verbose bool
}

func NewEngine(userAgent string, verbose bool) *Engine {
	if userAgent == "" {
		userAgent = ipsleuth.DefaultUserAgent
	}

	return &Engine{
		PrimaryTimeout: ipsleuth.SolvePrimaryTimeout,
		BackupTimeout:  ipsleuth.SolveBackupTimeout,
		UserAgent:      userAgent,
		Verbose:        verbose,
	}
}

// gate is a settle-once primitive. Three triggers feed it: the cookie
// observer, the primary timer and the backup timer. Only the first
// settle has any effect.
type gate struct {
	once   sync.Once
	done   chan struct{}
	result Credentials
	reason string
}

func newGate() *gate {
	return &gate{done: make(chan struct{})}
}

func (g *gate) settle(creds Credentials, reason string) {
	g.once.Do(func() {
		g.result = creds
		g.reason = reason
		close(g.done)
	})
}

func (g *gate) settled() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// errTeardown interrupts the VM once the acquisition outcome is decided.
var errTeardown = errors.New("sandbox: torn down")

// Solve executes the challenge script with the resolved parameters
// injected and observes the credential store until both required names
// have been written, the primary timeout passes, or the backup timeout
// forces resolution. It never returns an error.
func (e *Engine) Solve(chal params.Challenge, sc script.Script) Credentials {
	lg := slog.With("acquisition_id", uuid.NewString())

	g := newGate()
	vm := goja.New()

	env := newEnvironment(vm, lg, e.UserAgent, e.Verbose)
	env.jar.observer = func() {
		creds, ok := env.jar.credentials()
		if !ok {
			return
		}
		g.settle(creds, "credentials observed")
		vm.Interrupt(errTeardown)
	}

	patched, notes := Patch(sc.Body)
	if e.Verbose {
		for _, note := range notes {
			lg.Debug("disarmed side-effecting call shape", "rule", note.Rule, "count", note.Count)
		}
		for _, residual := range Residuals(patched) {
			lg.Warn("unpatched navigation reference survives rewrite, vendor script may have changed", "shape", residual)
		}
	}

	vm.Set(ipsleuth.NonceGlobal, chal.Nonce)
	vm.Set(ipsleuth.DifficultyGlobal, chal.Difficulty)

	primary := time.AfterFunc(e.PrimaryTimeout, func() {
		g.settle(Credentials{}, "primary timeout")
		vm.Interrupt(errTeardown)
	})
	defer primary.Stop()

	backup := time.AfterFunc(e.BackupTimeout, func() {
		g.settle(Credentials{}, "backup timeout")
	})
	defer backup.Stop()

	started := time.Now()

	go func() {
		if _, err := vm.RunString(patched); err != nil {
			e.logScriptError(lg, err)
		}

		// The main body may have scheduled the credential assignment
		// behind timers; drain them cooperatively.
		env.loop.drain(g, func(err error) { e.logScriptError(lg, err) })

		// A script that ran to completion without producing both values
		// stays pending until the timers decide; a lone credential is
		// not a terminal state.
	}()

	<-g.done
	elapsed := time.Since(started)

	solveDuration.Observe(elapsed.Seconds())
	if g.result.Complete() {
		solveOutcomes.WithLabelValues("solved").Inc()
		lg.Debug("challenge solved", "reason", g.reason, "elapsed", elapsed)
	} else {
		solveOutcomes.WithLabelValues("timeout").Inc()
		lg.Debug("challenge acquisition resolved without credentials", "reason", g.reason, "elapsed", elapsed)
	}

	return g.result
}

// logScriptError suppresses errors raised by the untrusted script.
// Challenge authors probe optional browser surfaces that are only
// partially stubbed; those probe failures must not abort acquisition.
func (e *Engine) logScriptError(lg *slog.Logger, err error) {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return
	}

	if e.Verbose {
		lg.Debug("suppressed sandboxed script error", "err", err)
	}
}
