// Package actor defines the capability boundary to the external browser
// actor. The campaign core never looks at page structure; it only consumes
// the outcomes and probes declared here.
package actor

import (
	"context"
	"errors"
)

// ErrClosed is returned by actors used after Close.
var ErrClosed = errors.New("actor closed")

// SessionState is the authentication state of one actor session.
type SessionState int

const (
	StateUnknown SessionState = iota
	StateAuthenticated
	StateExpired
	StateLoginRequired
)

func (s SessionState) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateExpired:
		return "expired"
	case StateLoginRequired:
		return "login_required"
	default:
		return "unknown"
	}
}

// Probe is a snapshot of what the actor currently sees.
type Probe struct {
	// LoggedIn is true when any known logged-in signature is displayed.
	LoggedIn bool
	// LoginForm is true when a login form signature is present.
	LoginForm bool
	// URL is the current location.
	URL string
}

// Login carries the credentials submitted by the login procedure.
type Login struct {
	Email    string
	Password string
}

// Actor is one exclusive automation session. Calls are never concurrent.
type Actor interface {
	// Probe inspects the current page. deep navigates to the home location
	// first when the actor is elsewhere.
	Probe(ctx context.Context, deep bool) (Probe, error)
	// Reload refreshes the current page.
	Reload(ctx context.Context) error
	// SubmitLogin fills and submits the login form.
	SubmitLogin(ctx context.Context, login Login) error

	// ExportSession serializes the session token set.
	ExportSession(ctx context.Context) ([]byte, error)
	// RestoreSession installs a previously exported token set and reloads.
	// It reports whether anything was installed.
	RestoreSession(ctx context.Context, artifact []byte) (bool, error)
	// Screenshot writes a diagnostic capture to path.
	Screenshot(ctx context.Context, path string) error

	// PostOnce performs a single post of link into destination.
	PostOnce(ctx context.Context, destination, link string) (Outcome, error)

	Close() error
}

// Warmer is implemented by actors that can browse idly before posting.
type Warmer interface {
	Warmup(ctx context.Context) error
}

// IdentitySwitcher is implemented by actors that can post as a named
// identity (for example a page) instead of the logged-in account.
type IdentitySwitcher interface {
	SwitchIdentity(ctx context.Context, identity string) error
}

// Factory creates a fresh actor session. Each cycle gets its own.
type Factory interface {
	New(ctx context.Context) (Actor, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context) (Actor, error)

func (f FactoryFunc) New(ctx context.Context) (Actor, error) { return f(ctx) }
