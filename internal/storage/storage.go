// Package storage is the persistence adapter: it moves the system document
// between the local durable slot and the remote store, and knows nothing
// about business rules.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"mandoob/backend/internal/domain"
	"mandoob/backend/internal/kv"
)

// Slot keys. The values predate this backend and are shared with other
// devices reading the same storage, so they stay as-is.
const (
	SystemKey = "stc_pro_v14_system"
	AuthKey   = "stc_pro_v14_auth_user"
)

// Local persists the document and the remembered session id into a kv.Store.
type Local struct {
	slots kv.Store
}

func NewLocal(slots kv.Store) *Local {
	return &Local{slots: slots}
}

func (l *Local) Close() error { return l.slots.Close() }

// LoadDocument returns the stored document, or nil when the slot is empty.
// A present but undecodable slot is an error; the caller keeps its seeded
// default in that case.
func (l *Local) LoadDocument(ctx context.Context) (*domain.SystemDocument, error) {
	raw, err := l.slots.Get(ctx, SystemKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read system slot: %w", err)
	}

	var doc domain.SystemDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode system slot: %w", err)
	}
	doc.Normalize()
	return &doc, nil
}

func (l *Local) SaveDocument(ctx context.Context, doc domain.SystemDocument) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode system document: %w", err)
	}
	if err := l.slots.Set(ctx, SystemKey, string(payload)); err != nil {
		return fmt.Errorf("write system slot: %w", err)
	}
	return nil
}

// RememberedUser returns the persisted profile id, or "" when no session was
// remembered.
func (l *Local) RememberedUser(ctx context.Context) (string, error) {
	id, err := l.slots.Get(ctx, AuthKey)
	if errors.Is(err, kv.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read auth slot: %w", err)
	}
	return id, nil
}

func (l *Local) RememberUser(ctx context.Context, id string) error {
	return l.slots.Set(ctx, AuthKey, id)
}

func (l *Local) ForgetUser(ctx context.Context) error {
	return l.slots.Delete(ctx, AuthKey)
}
