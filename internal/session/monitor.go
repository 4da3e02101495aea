// Package session tracks whether the actor is logged in and re-establishes
// the login when it is not.
//
// States follow actor.SessionState: Unknown after actor creation,
// Authenticated once a logged-in signature is seen, LoginRequired while the
// login procedure runs, Expired when a mid-cycle check finds the session gone.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"campaignd/internal/actor"
	"campaignd/internal/clock"
	logx "campaignd/pkg/logx"
)

var ErrLoginTimeout = errors.New("login not confirmed before timeout")

type Config struct {
	// LoginTimeout bounds the wait for a logged-in signature after the
	// credentials are submitted (two-factor prompts included).
	LoginTimeout time.Duration
	PollInterval time.Duration
	// RecheckDelay is the pause after the reload done for an ambiguous probe.
	RecheckDelay time.Duration
	// MaxAge forces a refresh-and-recheck of sessions older than this. 0 disables.
	MaxAge        time.Duration
	ScreenshotDir string
}

func (c Config) withDefaults() Config {
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 300 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RecheckDelay < 0 {
		c.RecheckDelay = 0
	}
	return c
}

type Monitor struct {
	act       actor.Actor
	login     actor.Login
	artifacts ArtifactStore
	clk       clock.Clock
	cfg       Config
	log       logx.Logger

	state actor.SessionState
	since time.Time
}

func NewMonitor(a actor.Actor, login actor.Login, artifacts ArtifactStore, clk clock.Clock, cfg Config, log logx.Logger) *Monitor {
	return &Monitor{
		act:       a,
		login:     login,
		artifacts: artifacts,
		clk:       clk,
		cfg:       cfg.withDefaults(),
		log:       log.With(logx.String("comp", "session")),
		state:     actor.StateUnknown,
	}
}

func (m *Monitor) State() actor.SessionState { return m.state }

func (m *Monitor) setState(s actor.SessionState, reason string) {
	if s == m.state {
		return
	}
	m.log.Info("session state", logx.String("from", m.state.String()), logx.String("to", s.String()), logx.String("reason", reason))
	m.state = s
	if s == actor.StateAuthenticated {
		m.since = m.clk.Now()
	}
}

// Establish brings a fresh actor to Authenticated: it restores the saved
// session artifact when there is one, then runs the deep check.
func (m *Monitor) Establish(ctx context.Context) (actor.SessionState, error) {
	if m.artifacts != nil {
		b, err := m.artifacts.Load()
		switch {
		case err != nil:
			m.log.Warn("session artifact unreadable; using explicit login", logx.Err(err))
		case len(b) > 0:
			ok, err := m.act.RestoreSession(ctx, b)
			if err != nil {
				m.log.Warn("session restore failed", logx.Err(err))
			} else if ok {
				m.log.Info("session artifact restored", logx.Int("bytes", len(b)))
			}
		}
	}
	return m.Ensure(ctx)
}

// Ensure runs the deep check and, if needed, the login procedure.
func (m *Monitor) Ensure(ctx context.Context) (actor.SessionState, error) {
	p, err := m.act.Probe(ctx, true)
	if err != nil {
		return m.state, fmt.Errorf("probe session: %w", err)
	}
	if p.LoggedIn {
		m.setState(actor.StateAuthenticated, "logged-in signature")
		return m.state, nil
	}
	if p.LoginForm {
		m.setState(actor.StateLoginRequired, "login form")
		return m.performLogin(ctx)
	}

	// Neither signature: reload once and look again.
	m.log.Warn("session state ambiguous; reloading", logx.String("url", p.URL))
	if err := m.act.Reload(ctx); err != nil {
		return m.state, fmt.Errorf("reload: %w", err)
	}
	if err := m.clk.Sleep(ctx, m.cfg.RecheckDelay); err != nil {
		return m.state, err
	}
	p, err = m.act.Probe(ctx, false)
	if err != nil {
		return m.state, fmt.Errorf("probe session: %w", err)
	}
	if p.LoggedIn {
		m.setState(actor.StateAuthenticated, "logged-in signature after reload")
		return m.state, nil
	}
	m.setState(actor.StateLoginRequired, "no signature after reload")
	return m.performLogin(ctx)
}

func (m *Monitor) performLogin(ctx context.Context) (actor.SessionState, error) {
	m.log.Info("login procedure started")
	if err := m.act.SubmitLogin(ctx, m.login); err != nil {
		return m.state, fmt.Errorf("submit login: %w", err)
	}

	deadline := m.clk.Now().Add(m.cfg.LoginTimeout)
	for {
		p, err := m.act.Probe(ctx, false)
		if err != nil {
			m.log.Debug("login poll probe failed", logx.Err(err))
		} else if p.LoggedIn {
			m.setState(actor.StateAuthenticated, "login confirmed")
			m.saveArtifact(ctx)
			return m.state, nil
		}
		if !m.clk.Now().Before(deadline) {
			break
		}
		if err := m.clk.Sleep(ctx, m.cfg.PollInterval); err != nil {
			return m.state, err
		}
	}

	m.captureScreenshot(ctx, "login_timeout")
	return m.state, fmt.Errorf("%w (%s)", ErrLoginTimeout, m.cfg.LoginTimeout)
}

func (m *Monitor) saveArtifact(ctx context.Context) {
	if m.artifacts == nil {
		return
	}
	b, err := m.act.ExportSession(ctx)
	if err != nil || len(b) == 0 {
		m.log.Warn("session export failed", logx.Err(err), logx.Int("bytes", len(b)))
		return
	}
	if err := m.artifacts.Save(b); err != nil {
		m.log.Warn("session artifact save failed", logx.Err(err))
		return
	}
	m.log.Info("session artifact saved", logx.Int("bytes", len(b)))
}

func (m *Monitor) captureScreenshot(ctx context.Context, tag string) {
	dir := strings.TrimSpace(m.cfg.ScreenshotDir)
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		m.log.Warn("screenshot dir unavailable", logx.Err(err))
		return
	}
	path := filepath.Join(dir, tag+"_"+m.clk.Now().Format("20060102T150405")+".png")
	if err := m.act.Screenshot(ctx, path); err != nil {
		m.log.Warn("screenshot failed", logx.Err(err))
		return
	}
	m.log.Warn("screenshot captured", logx.String("path", path))
}

// IsExpired is the cheap mid-cycle check run before each destination. A
// probe error counts as expired.
func (m *Monitor) IsExpired(ctx context.Context) bool {
	if m.cfg.MaxAge > 0 && !m.since.IsZero() && m.clk.Now().Sub(m.since) >= m.cfg.MaxAge {
		m.setState(actor.StateExpired, "max age")
		return true
	}
	p, err := m.act.Probe(ctx, false)
	if err != nil {
		m.log.Warn("session probe failed", logx.Err(err))
		m.setState(actor.StateExpired, "probe error")
		return true
	}
	u := strings.ToLower(p.URL)
	if strings.Contains(u, "login") || strings.Contains(u, "checkpoint") {
		m.setState(actor.StateExpired, "login/checkpoint url")
		return true
	}
	if p.LoginForm && !p.LoggedIn {
		m.setState(actor.StateExpired, "login form")
		return true
	}
	return false
}

// Refresh reloads the page and re-runs the deep check, logging in again if
// the session is gone.
func (m *Monitor) Refresh(ctx context.Context) (actor.SessionState, error) {
	if err := m.act.Reload(ctx); err != nil {
		m.log.Warn("reload failed", logx.Err(err))
	}
	return m.Ensure(ctx)
}
