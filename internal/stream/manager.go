// Package stream owns the persistent WebSocket connection to the chat
// endpoint: one logical connection bound to at most one chat at a time,
// reconnection with exponential backoff, and frame dispatch into the
// store.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edulink/chatsync/internal/auth"
	"github.com/edulink/chatsync/internal/bus"
	"github.com/edulink/chatsync/internal/config"
	"github.com/edulink/chatsync/internal/status"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrNoCredential is returned by Open when no valid access token is
// available; no network attempt is made in that case.
var ErrNoCredential = errors.New("stream: no valid credential")

// Manager owns the single live connection. Switching the active chat
// tears down the previous connection before dialing the new one.
type Manager struct {
	baseURL    string
	tokens     auth.TokenSource
	dispatcher *Dispatcher
	machine    *status.Machine
	bus        *bus.Bus
	logger     *zap.Logger
	cfg        config.ReconnectConfig
	dialer     *websocket.Dialer

	mu             sync.Mutex
	chatID         int64 // active_stream_chat_id; 0 = none
	conn           *websocket.Conn
	closeRequested bool
	attempts       int
	backoff        *backoff.ExponentialBackOff
	reconnectTimer *time.Timer

	// gen is bumped on every Open/Close so callbacks from a previous
	// connection generation become no-ops instead of racing the new one.
	gen int
}

// NewManager creates a connection manager. baseURL is the WebSocket
// base, e.g. "wss://school.example.com".
func NewManager(baseURL string, tokens auth.TokenSource, dispatcher *Dispatcher, machine *status.Machine, b *bus.Bus, cfg config.ReconnectConfig, logger *zap.Logger) *Manager {
	return &Manager{
		baseURL:    baseURL,
		tokens:     tokens,
		dispatcher: dispatcher,
		machine:    machine,
		bus:        b,
		logger:     logger,
		cfg:        cfg,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff:    newReconnectBackoff(cfg),
	}
}

// newReconnectBackoff builds the reconnect delay policy: attempt k
// waits base * growth^(k-1), capped at base * maxMultiplier, no jitter.
func newReconnectBackoff(cfg config.ReconnectConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.BaseDelay()
	b.Multiplier = cfg.GrowthFactor
	b.MaxInterval = cfg.BaseDelay() * time.Duration(cfg.MaxMultiplier)
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// ChatID returns the chat the connection is currently bound to, 0 if none.
func (m *Manager) ChatID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chatID
}

// State returns the current connection state.
func (m *Manager) State() status.State {
	return m.machine.Current()
}

// Open binds the connection to chatID and dials. Opening the chat that
// is already open or connecting is a no-op; opening a different chat
// first closes the old connection intentionally. Without a valid
// credential the state goes straight to error and nothing is dialed.
func (m *Manager) Open(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chatID == chatID {
		switch m.machine.Current() {
		case status.Open, status.Connecting:
			return nil
		}
	}
	if m.chatID != 0 {
		m.closeLocked()
	}

	if !m.tokens.Valid() {
		if m.machine.Current() != status.Error {
			_ = m.machine.Transition(status.Error)
		}
		m.bus.Emit(bus.StreamConnectionLost, chatID)
		return ErrNoCredential
	}

	m.chatID = chatID
	m.closeRequested = false
	m.attempts = 0
	m.backoff.Reset()
	m.gen++
	gen := m.gen

	_ = m.machine.Transition(status.Connecting)
	go m.connect(ctx, gen)
	return nil
}

// Close tears the connection down intentionally. Never triggers a
// reconnect.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// closeLocked performs an intentional shutdown. Caller holds mu.
func (m *Manager) closeLocked() {
	m.closeRequested = true
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.conn != nil {
		_ = m.machine.Transition(status.Closing)
		deadline := time.Now().Add(time.Second)
		_ = m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = m.conn.Close()
		m.conn = nil
		_ = m.machine.Transition(status.Disconnected)
	} else {
		switch m.machine.Current() {
		case status.Connecting, status.Error:
			_ = m.machine.Transition(status.Disconnected)
		}
	}
	m.chatID = 0
}

func (m *Manager) connect(ctx context.Context, gen int) {
	m.mu.Lock()
	if gen != m.gen || m.closeRequested {
		m.mu.Unlock()
		return
	}
	chatID := m.chatID
	m.mu.Unlock()

	token, err := m.tokens.Token()
	if err != nil {
		m.logger.Warn("stream credential unavailable", zap.Error(err))
		m.retry(gen)
		return
	}

	endpoint := fmt.Sprintf("%s/ws/chats/%d/?token=%s", m.baseURL, chatID, url.QueryEscape(token))
	conn, _, err := m.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		m.logger.Warn("stream dial failed", zap.Int64("chat_id", chatID), zap.Error(err))
		m.retry(gen)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closeRequested {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.attempts = 0
	m.backoff.Reset()
	_ = m.machine.Transition(status.Open)
	m.mu.Unlock()

	m.logger.Info("stream open", zap.Int64("chat_id", chatID))
	m.bus.Emit(bus.StreamConnected, chatID)
	go m.readLoop(conn, gen)
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClosed(gen, err)
			return
		}
		m.dispatcher.Dispatch(data)
	}
}

func (m *Manager) handleClosed(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.closeRequested {
		// Close() already settled the state.
		m.mu.Unlock()
		return
	}
	m.conn = nil
	_ = m.machine.Transition(status.Disconnected)
	m.mu.Unlock()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		m.logger.Info("stream closed cleanly")
		return
	}
	m.logger.Warn("stream closed unexpectedly", zap.Error(err))
	m.retry(gen)
}

// retry schedules the next reconnect attempt, or gives up and
// transitions to error once the attempt budget is spent.
func (m *Manager) retry(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.closeRequested {
		return
	}
	if m.machine.Current() == status.Connecting {
		_ = m.machine.Transition(status.Disconnected)
	}

	m.attempts++
	if m.attempts > m.cfg.MaxAttempts {
		_ = m.machine.Transition(status.Error)
		m.logger.Error("stream retry budget exhausted", zap.Int64("chat_id", m.chatID))
		m.bus.Emit(bus.StreamConnectionLost, m.chatID)
		return
	}

	delay := m.backoff.NextBackOff()
	m.logger.Info("scheduling stream reconnect",
		zap.Int("attempt", m.attempts), zap.Duration("delay", delay))
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.gen || m.closeRequested {
			m.mu.Unlock()
			return
		}
		_ = m.machine.Transition(status.Connecting)
		m.mu.Unlock()
		m.connect(context.Background(), gen)
	})
}
