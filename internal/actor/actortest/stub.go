// Package actortest provides a scriptable actor.Actor for tests.
package actortest

import (
	"context"
	"sync"

	"campaignd/internal/actor"
)

// Post is one recorded PostOnce call.
type Post struct {
	Destination string
	Link        string
}

// Stub is an in-memory actor. Probes and post results are consumed from the
// scripted queues; when a queue runs dry the matching default is returned.
type Stub struct {
	mu sync.Mutex

	Probes       []actor.Probe
	ProbeErrs    []error
	DefaultProbe actor.Probe

	// PostFunc, when set, decides every PostOnce result.
	PostFunc      func(destination, link string) (actor.Outcome, error)
	DefaultResult actor.Outcome

	Artifact     []byte
	RestoreOK    bool
	SubmitErr    error
	ReloadErr    error
	WarmupErr    error
	IdentityErr  error
	LoginOnProbe int // after this many probes following SubmitLogin, report logged in; 0 never

	// Recorded calls.
	ProbeCalls       int
	Reloads          int
	Logins           int
	Restored         [][]byte
	Screenshots      []string
	Posts            []Post
	Warmups          int
	Identities       []string
	Closed           bool
	probesSinceLogin int
	loggedInByLogin  bool
}

var (
	_ actor.Actor            = (*Stub)(nil)
	_ actor.Warmer           = (*Stub)(nil)
	_ actor.IdentitySwitcher = (*Stub)(nil)
)

func (s *Stub) Probe(ctx context.Context, deep bool) (actor.Probe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ProbeCalls++
	if s.Logins > 0 && s.LoginOnProbe > 0 {
		s.probesSinceLogin++
		if s.probesSinceLogin >= s.LoginOnProbe {
			s.loggedInByLogin = true
		}
	}
	if len(s.ProbeErrs) > 0 {
		err := s.ProbeErrs[0]
		s.ProbeErrs = s.ProbeErrs[1:]
		if err != nil {
			return actor.Probe{}, err
		}
	}
	if len(s.Probes) > 0 {
		p := s.Probes[0]
		s.Probes = s.Probes[1:]
		return p, nil
	}
	if s.loggedInByLogin {
		return actor.Probe{LoggedIn: true, URL: "https://home.example/"}, nil
	}
	return s.DefaultProbe, nil
}

func (s *Stub) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Reloads++
	return s.ReloadErr
}

func (s *Stub) SubmitLogin(ctx context.Context, login actor.Login) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Logins++
	s.probesSinceLogin = 0
	return s.SubmitErr
}

func (s *Stub) ExportSession(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.Artifact...), nil
}

func (s *Stub) RestoreSession(ctx context.Context, artifact []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Restored = append(s.Restored, append([]byte(nil), artifact...))
	return s.RestoreOK, nil
}

func (s *Stub) Screenshot(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Screenshots = append(s.Screenshots, path)
	return nil
}

func (s *Stub) PostOnce(ctx context.Context, destination, link string) (actor.Outcome, error) {
	s.mu.Lock()
	s.Posts = append(s.Posts, Post{Destination: destination, Link: link})
	fn := s.PostFunc
	def := s.DefaultResult
	s.mu.Unlock()
	if fn != nil {
		return fn(destination, link)
	}
	if def == "" {
		def = actor.Success
	}
	return def, nil
}

func (s *Stub) Warmup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Warmups++
	return s.WarmupErr
}

func (s *Stub) SwitchIdentity(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Identities = append(s.Identities, identity)
	return s.IdentityErr
}

func (s *Stub) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}

// PostCount returns the number of PostOnce calls so far.
func (s *Stub) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Posts)
}
