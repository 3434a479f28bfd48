// Package auth implements the session state machine that gates every
// protected surface of the desk.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/prestador-desk/internal/domain"
	"github.com/ashureev/prestador-desk/internal/store"
)

// State is the authentication state exposed to screens.
type State int

const (
	// Unauthenticated is the initial state and the state after sign-out.
	Unauthenticated State = iota
	// Loading is held only while the stored session is read at startup.
	Loading
	// Authenticated means a complete session is persisted and held in memory.
	Authenticated
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Controller is the single writer of the session. Every mutation persists
// first and flips in-memory state second.
type Controller struct {
	store  store.SessionStore
	logger *slog.Logger
	now    func() time.Time

	// opMu serialises mutations across their store call.
	opMu sync.Mutex

	mu      sync.RWMutex
	state   State
	session *domain.Session

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// NewController creates a controller in the Unauthenticated state.
func NewController(s store.SessionStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:  s,
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]func(State)),
	}
}

// Init reloads the persisted session at process start.
func (c *Controller) Init(ctx context.Context) State {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.set(Loading, nil)

	session, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Error("Failed to load stored session, starting signed out", "error", err)
		return c.set(Unauthenticated, nil)
	}
	if !session.Complete() {
		return c.set(Unauthenticated, nil)
	}
	c.logger.Info("Stored session restored", "user_id", session.Identity.ID())
	return c.set(Authenticated, session)
}

// SignIn persists the session and only then reports Authenticated.
func (c *Controller) SignIn(ctx context.Context, identity domain.Identity, token string) error {
	if len(identity) == 0 {
		return fmt.Errorf("sign in: %w: identity is empty", domain.ErrInvalidInput)
	}
	if err := CheckToken(token, c.now()); err != nil {
		return err
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	session := domain.Session{Identity: identity.Clone(), Token: token}
	if err := c.store.Save(ctx, session); err != nil {
		c.logger.Error("Failed to persist session on sign in", "error", err)
		return fmt.Errorf("sign in: %w", err)
	}
	c.set(Authenticated, &session)
	c.logger.Info("Signed in", "user_id", identity.ID())
	return nil
}

// SignOut clears the store and only then reports Unauthenticated.
func (c *Controller) SignOut(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		c.logger.Error("Failed to clear session on sign out", "error", err)
		return fmt.Errorf("sign out: %w", err)
	}
	c.set(Unauthenticated, nil)
	c.logger.Info("Signed out")
	return nil
}

// ReloadUser re-derives the state from the store without a Loading pass.
func (c *Controller) ReloadUser(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.reloadLocked(ctx)
}

// UpdateIdentity replaces the stored identity, keeping the current token,
// then reloads. Used after profile edits.
func (c *Controller) UpdateIdentity(ctx context.Context, identity domain.Identity) error {
	if len(identity) == 0 {
		return fmt.Errorf("update identity: %w: identity is empty", domain.ErrInvalidInput)
	}

	c.opMu.Lock()
	defer c.opMu.Unlock()

	token := c.Token()
	if token == "" {
		return &domain.AuthError{Op: "update identity", Err: domain.ErrTokenMissing}
	}
	if err := c.store.Save(ctx, domain.Session{Identity: identity.Clone(), Token: token}); err != nil {
		return fmt.Errorf("update identity: %w", err)
	}
	return c.reloadLocked(ctx)
}

// HandleAuthError forces a sign-out when err is an AuthError. It reports
// whether a sign-out was attempted.
func (c *Controller) HandleAuthError(ctx context.Context, err error) bool {
	if !domain.IsAuthError(err) {
		return false
	}
	c.logger.Warn("Credential rejected, forcing sign out", "error", err)
	if signOutErr := c.SignOut(ctx); signOutErr != nil {
		c.logger.Error("Forced sign out failed", "error", signOutErr)
	}
	return true
}

func (c *Controller) reloadLocked(ctx context.Context) error {
	session, err := c.store.Load(ctx)
	if err != nil {
		c.logger.Error("Failed to reload session, treating as signed out", "error", err)
		c.set(Unauthenticated, nil)
		return fmt.Errorf("reload user: %w", err)
	}
	if !session.Complete() {
		c.set(Unauthenticated, nil)
		return nil
	}
	c.set(Authenticated, session)
	return nil
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsAuthenticated reports whether a complete session is held.
func (c *Controller) IsAuthenticated() bool {
	return c.State() == Authenticated
}

// Session returns an immutable snapshot of the session, or nil.
func (c *Controller) Session() *domain.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.Snapshot()
}

// Token returns the current bearer token, or "".
func (c *Controller) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return ""
	}
	return c.session.Token
}

// Subscribe registers fn for state transitions. The returned func removes it.
// fn runs while a mutation is in progress and must not call back into one.
func (c *Controller) Subscribe(fn func(State)) func() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Controller) set(state State, session *domain.Session) State {
	c.mu.Lock()
	prev := c.state
	c.state = state
	c.session = session.Snapshot()
	c.mu.Unlock()

	if prev != state {
		c.notify(state)
	}
	return state
}

func (c *Controller) notify(state State) {
	c.subMu.Lock()
	fns := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
