// Package engine owns the system document and is the sole authority for
// mutating it. Three copies are kept eventually consistent: in-memory, the
// local durable slot, and the remote store. Local writes are synchronous and
// must succeed; remote propagation is fire-and-forget, so remote durability
// is eventual and unconfirmed. Conflicts resolve as last-writer-wins at
// whole-document granularity.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mandoob/backend/internal/domain"
	"mandoob/backend/internal/ops"
	"mandoob/backend/internal/storage"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrNoRemote           = errors.New("no remote store configured")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidDocument    = errors.New("document has no profiles")
	ErrForbidden          = errors.New("admin role required")
	ErrUserExists         = errors.New("username already exists")
	ErrUserNotFound       = errors.New("profile not found")
)

type Engine struct {
	mu       sync.RWMutex
	doc      domain.SystemDocument
	activeID string
	syncing  bool

	local  *storage.Local
	remote *storage.Remote // nil means the tracker runs purely offline
}

func New(local *storage.Local, remote *storage.Remote) *Engine {
	return &Engine{
		doc:    domain.NewSystemDocument(),
		local:  local,
		remote: remote,
	}
}

// Start runs the startup protocol: adopt a valid local document over the
// seeded default, restore a remembered session, then kick off a background
// sync. It never blocks on the network; the tracker is usable immediately
// from local state.
func (e *Engine) Start(ctx context.Context) error {
	stored, err := e.local.LoadDocument(ctx)
	if err != nil {
		log.Printf("[engine] local document unreadable, keeping seeded default: %v", err)
	} else if stored != nil && stored.Valid() {
		e.mu.Lock()
		e.doc = *stored
		e.mu.Unlock()
	}

	remembered, err := e.local.RememberedUser(ctx)
	if err != nil {
		log.Printf("[engine] remembered session unreadable: %v", err)
	} else if remembered != "" {
		e.mu.Lock()
		if e.doc.FindUser(remembered) >= 0 {
			e.activeID = remembered
		}
		e.mu.Unlock()
	}

	if e.remote != nil {
		go func() {
			if err := e.Sync(context.Background()); err != nil {
				log.Printf("[engine] startup sync: %v (staying offline)", err)
			}
		}()
	}
	return nil
}

// Apply is the single mutation entry point for business operations. The
// transform runs against the active profile's ledger; on success the new
// document replaces the old wholesale, is written to local storage (a write
// failure aborts the mutation and is returned to the caller), and is
// propagated to the remote store without blocking. The caller observes the
// new ledger synchronously.
func (e *Engine) Apply(ctx context.Context, transform ops.Transform) (domain.Ledger, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeID == "" {
		return domain.Ledger{}, ErrNoSession
	}
	idx := e.doc.FindUser(e.activeID)
	if idx < 0 {
		return domain.Ledger{}, ErrNoSession
	}

	next, err := transform(e.doc.Users[idx].DB)
	if err != nil {
		return domain.Ledger{}, err
	}

	users := make([]domain.UserProfile, len(e.doc.Users))
	copy(users, e.doc.Users)
	users[idx].DB = next
	nextDoc := e.doc
	nextDoc.Users = users

	if err := e.commit(ctx, nextDoc); err != nil {
		return domain.Ledger{}, err
	}
	return next.Clone(), nil
}

// Sync fetches the remote document and, if structurally valid, adopts it
// unconditionally over in-memory and local state — last writer wins, so any
// purely-local change not yet propagated is overwritten. Network failures
// leave the working document untouched.
func (e *Engine) Sync(ctx context.Context) error {
	if e.remote == nil {
		return ErrNoRemote
	}

	e.mu.Lock()
	e.syncing = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	fetched, err := e.remote.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if !fetched.Valid() {
		return ErrInvalidDocument
	}
	return e.adopt(ctx, *fetched, false)
}

// Syncing reports whether a sync fetch is in flight, for the loading
// indicator.
func (e *Engine) Syncing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.syncing
}

// Login matches username and password exactly against the profile list. With
// remember set, the profile id is persisted so the session survives restart;
// otherwise it lives in memory only.
func (e *Engine) Login(ctx context.Context, username, password string, remember bool) (domain.UserProfile, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, u := range e.doc.Users {
		if u.Username == username && u.Password == password {
			e.activeID = u.ID
			if remember {
				if err := e.local.RememberUser(ctx, u.ID); err != nil {
					return domain.UserProfile{}, fmt.Errorf("remember session: %w", err)
				}
			}
			u.DB = u.DB.Clone()
			return u, nil
		}
	}
	// One failure signal for both unknown username and wrong password.
	return domain.UserProfile{}, ErrInvalidCredentials
}

// Logout clears the active session and the remembered identifier. The
// document is untouched.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.activeID = ""
	return e.local.ForgetUser(ctx)
}

// ActiveProfile returns a copy of the authenticated profile, if any.
func (e *Engine) ActiveProfile() (domain.UserProfile, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.activeID == "" {
		return domain.UserProfile{}, false
	}
	idx := e.doc.FindUser(e.activeID)
	if idx < 0 {
		return domain.UserProfile{}, false
	}
	u := e.doc.Users[idx]
	u.DB = u.DB.Clone()
	return u, true
}

// ActiveLedger returns a copy of the active profile's ledger.
func (e *Engine) ActiveLedger() (domain.Ledger, bool) {
	u, ok := e.ActiveProfile()
	if !ok {
		return domain.Ledger{}, false
	}
	return u.DB, true
}

// Snapshot returns a copy of the working document.
func (e *Engine) Snapshot() domain.SystemDocument {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.doc.Clone()
}

// SetTheme replaces the global theme preference.
func (e *Engine) SetTheme(ctx context.Context, theme domain.Theme) error {
	if theme != domain.ThemeLight && theme != domain.ThemeDark {
		return fmt.Errorf("unknown theme %q", theme)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.doc
	next.GlobalTheme = theme
	return e.commit(ctx, next)
}

// UpdateDisplayName replaces the active profile's display name.
func (e *Engine) UpdateDisplayName(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("display name must not be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	idx := e.doc.FindUser(e.activeID)
	if e.activeID == "" || idx < 0 {
		return ErrNoSession
	}

	users := make([]domain.UserProfile, len(e.doc.Users))
	copy(users, e.doc.Users)
	users[idx].Name = name
	next := e.doc
	next.Users = users
	return e.commit(ctx, next)
}

// CreateProfile adds a new agent account with a fresh ledger. Admin only.
func (e *Engine) CreateProfile(ctx context.Context, username, password, name string, role domain.Role) (domain.UserProfile, error) {
	username = strings.TrimSpace(username)
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.UserProfile{}, errors.New("username and password are required")
	}
	if role != domain.RoleAdmin && role != domain.RoleUser {
		role = domain.RoleUser
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.activeIsAdmin() {
		return domain.UserProfile{}, ErrForbidden
	}
	for _, u := range e.doc.Users {
		if u.Username == username {
			return domain.UserProfile{}, ErrUserExists
		}
	}

	profile := domain.UserProfile{
		ID:       uuid.NewString(),
		Username: username,
		Password: password,
		Role:     role,
		Name:     strings.TrimSpace(name),
		DB:       domain.NewLedger(),
	}

	users := make([]domain.UserProfile, len(e.doc.Users), len(e.doc.Users)+1)
	copy(users, e.doc.Users)
	users = append(users, profile)
	next := e.doc
	next.Users = users
	if err := e.commit(ctx, next); err != nil {
		return domain.UserProfile{}, err
	}

	profile.DB = profile.DB.Clone()
	return profile, nil
}

// ResetPassword replaces a profile's password. Admins may reset anyone;
// other roles only themselves.
func (e *Engine) ResetPassword(ctx context.Context, userID, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return errors.New("password must not be empty")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.activeID == "" {
		return ErrNoSession
	}
	if !e.activeIsAdmin() && e.activeID != userID {
		return ErrForbidden
	}

	idx := e.doc.FindUser(userID)
	if idx < 0 {
		return ErrUserNotFound
	}

	users := make([]domain.UserProfile, len(e.doc.Users))
	copy(users, e.doc.Users)
	users[idx].Password = newPassword
	next := e.doc
	next.Users = users
	return e.commit(ctx, next)
}

// Export serializes the full document for download.
func (e *Engine) Export() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return json.MarshalIndent(e.doc, "", "  ")
}

// Import wholesale-replaces the document from an uploaded file, applying the
// same validation rule as sync. The adopted document is persisted locally and
// propagated to the remote store.
func (e *Engine) Import(ctx context.Context, data []byte) error {
	var doc domain.SystemDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode import: %w", err)
	}
	if !doc.Valid() {
		return ErrInvalidDocument
	}
	doc.Normalize()
	return e.adopt(ctx, doc, true)
}

// adopt installs a replacement document: local persist first (a failure
// aborts adoption), then in-memory state, then session re-resolution. When
// the active profile id is missing from the new document the session is
// force-logged-out — a stale cached ledger would make every later operation
// fail anyway.
func (e *Engine) adopt(ctx context.Context, doc domain.SystemDocument, propagate bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.local.SaveDocument(ctx, doc); err != nil {
		return err
	}
	e.doc = doc

	if e.activeID != "" && doc.FindUser(e.activeID) < 0 {
		log.Printf("[engine] active profile %q missing from adopted document, forcing logout", e.activeID)
		e.activeID = ""
		if err := e.local.ForgetUser(ctx); err != nil {
			log.Printf("[engine] clearing remembered session: %v", err)
		}
	}

	if propagate {
		go e.propagate(doc)
	}
	return nil
}

// commit persists and installs a new document value, then fires remote
// propagation. Callers hold e.mu.
func (e *Engine) commit(ctx context.Context, next domain.SystemDocument) error {
	if err := e.local.SaveDocument(ctx, next); err != nil {
		return fmt.Errorf("local storage write failed: %w", err)
	}
	e.doc = next
	go e.propagate(next)
	return nil
}

// propagate pushes the document to the remote store best-effort. Failures
// are logged and otherwise swallowed; the next sync or mutation retries.
func (e *Engine) propagate(doc domain.SystemDocument) {
	if e.remote == nil {
		return
	}
	if err := e.remote.Push(context.Background(), doc); err != nil {
		log.Printf("[engine] remote propagation failed: %v (offline)", err)
	}
}

// activeIsAdmin reports whether the active session belongs to an admin.
// Callers hold e.mu.
func (e *Engine) activeIsAdmin() bool {
	if e.activeID == "" {
		return false
	}
	idx := e.doc.FindUser(e.activeID)
	return idx >= 0 && e.doc.Users[idx].Role == domain.RoleAdmin
}
