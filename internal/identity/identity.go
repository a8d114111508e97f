// Package identity tracks the acting user and their access token.
// It wraps an oauth2.TokenSource and emits change events (sign-in, token
// refresh, sign-out) that the sync orchestrator uses as cycle triggers.
package identity

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
)

// EventKind identifies an identity change.
type EventKind int

const (
	SignedIn EventKind = iota
	TokenRefreshed
	SignedOut
)

// String returns a log-friendly name for the event kind.
func (k EventKind) String() string {
	switch k {
	case SignedIn:
		return "signed_in"
	case TokenRefreshed:
		return "token_refreshed"
	case SignedOut:
		return "signed_out"
	default:
		return "unknown"
	}
}

// Event describes one identity change.
type Event struct {
	Kind   EventKind
	UserID string
}

// eventBuffer bounds the events channel. Events are dropped, not queued
// indefinitely, when no listener is draining — a missed trigger is made up
// by the next periodic cycle.
const eventBuffer = 8

// Provider holds the current identity. Safe for concurrent use: the engine
// reads UserID and AccessToken from the sync goroutine while the
// application signs in or out from another.
type Provider struct {
	mu         sync.Mutex
	userID     string
	source     oauth2.TokenSource
	lastAccess string

	events chan Event
	logger *slog.Logger
}

// NewProvider creates an anonymous Provider. Call SignIn to attach a user.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provider{
		events: make(chan Event, eventBuffer),
		logger: logger,
	}
}

// Events returns the identity change channel.
func (p *Provider) Events() <-chan Event {
	return p.events
}

// UserID returns the authenticated user id, or "" when anonymous.
func (p *Provider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.userID
}

// SignIn attaches a user and their token source, emitting a SignedIn event.
func (p *Provider) SignIn(userID string, source oauth2.TokenSource) {
	p.mu.Lock()
	p.userID = userID
	p.source = source
	p.lastAccess = ""
	p.mu.Unlock()

	p.logger.Info("signed in", "user_id", userID)
	p.emit(Event{Kind: SignedIn, UserID: userID})
}

// SignOut clears the identity, emitting a SignedOut event.
func (p *Provider) SignOut() {
	p.mu.Lock()
	prev := p.userID
	p.userID = ""
	p.source = nil
	p.lastAccess = ""
	p.mu.Unlock()

	p.logger.Info("signed out", "user_id", prev)
	p.emit(Event{Kind: SignedOut})
}

// AccessToken implements remote.TokenProvider. It returns "" when
// anonymous. When the underlying oauth2 source silently refreshed the
// token, the change is detected here and surfaced as a TokenRefreshed
// event so the orchestrator can trigger a cycle.
func (p *Provider) AccessToken() (string, error) {
	p.mu.Lock()
	source := p.source
	userID := p.userID
	last := p.lastAccess
	p.mu.Unlock()

	if source == nil {
		return "", nil
	}

	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("identity: fetching token: %w", err)
	}

	if last != "" && tok.AccessToken != last {
		p.logger.Debug("access token refreshed", "user_id", userID)
		p.emit(Event{Kind: TokenRefreshed, UserID: userID})
	}

	p.mu.Lock()
	p.lastAccess = tok.AccessToken
	p.mu.Unlock()

	return tok.AccessToken, nil
}

// emit sends an event without blocking; dropped events are logged.
func (p *Provider) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("identity event dropped, channel full", "kind", ev.Kind.String())
	}
}
