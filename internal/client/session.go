// Package client is the embedder-facing surface of a sync session. The
// UI layer drives the store through it and observes changes on the bus;
// it owns no state of its own.
package client

import (
	"context"

	"github.com/edulink/chatsync/internal/bus"
	"github.com/edulink/chatsync/internal/store"
	"go.uber.org/zap"
)

// Session bundles the store and the event bus of one running session.
type Session struct {
	name   string
	store  *store.Store
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a session facade.
func New(name string, st *store.Store, b *bus.Bus, logger *zap.Logger) *Session {
	return &Session{name: name, store: st, bus: b, logger: logger}
}

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Store returns the session's store for issuing operations.
func (s *Session) Store() *store.Store { return s.store }

// Events subscribes to bus events matching the namespace prefix.
// The returned function unsubscribes.
func (s *Session) Events(namespace string, bufSize int) (<-chan bus.Event, func()) {
	return s.bus.Subscribe(namespace, bufSize)
}

// Init brings the session up: render cached chats immediately, then
// replace them with the authoritative list.
func (s *Session) Init(ctx context.Context) error {
	s.store.Seed()
	if err := s.store.LoadChats(ctx); err != nil {
		return err
	}
	s.logger.Info("session initialized", zap.String("session", s.name))
	return nil
}

// Teardown closes the stream connection and clears session state.
func (s *Session) Teardown() {
	s.store.Teardown()
}
