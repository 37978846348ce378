package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultPingInterval is the liveness probe period. A connection that misses
// two consecutive probes is closed.
const DefaultPingInterval = 30 * time.Second

// Message is the server-to-client envelope.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Conn is one live push-channel session.
// Send must not block; implementations buffer or fail fast.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Ping() error
	Close() error
}

// Notifier is what domain code uses to push; both Hub and RedisFanout satisfy it.
type Notifier interface {
	SendToUser(userID string, msg Message)
	Broadcast(msg Message)
	BroadcastExceptUser(userID string, msg Message)
}

type member struct {
	conn   Conn
	userID string
	alive  atomic.Bool
}

// Hub tracks live connections per user and delivers messages to them.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[string]*member // userID -> connID -> member
	conns map[string]*member            // connID -> member
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		users: make(map[string]map[string]*member),
		conns: make(map[string]*member),
		log:   log.Named("push"),
	}
}

// Register adds conn to userID's set. A user may hold many connections.
func (h *Hub) Register(userID string, conn Conn) {
	m := &member{conn: conn, userID: userID}
	m.alive.Store(true)

	h.mu.Lock()
	if prev, ok := h.conns[conn.ID()]; ok {
		h.removeLocked(prev)
	}
	if h.users[userID] == nil {
		h.users[userID] = make(map[string]*member)
	}
	h.users[userID][conn.ID()] = m
	h.conns[conn.ID()] = m
	count := len(h.users[userID])
	h.mu.Unlock()

	h.log.Info("push connection opened",
		zap.String("user_id", userID),
		zap.String("conn_id", conn.ID()),
		zap.Int("user_connections", count))
}

// Unregister removes conn. The user key is dropped with its last connection.
func (h *Hub) Unregister(conn Conn) {
	h.mu.Lock()
	m, ok := h.conns[conn.ID()]
	if ok && m.conn == conn {
		h.removeLocked(m)
	} else {
		ok = false
	}
	h.mu.Unlock()

	if ok {
		h.log.Info("push connection closed",
			zap.String("user_id", m.userID),
			zap.String("conn_id", conn.ID()))
	}
}

func (h *Hub) removeLocked(m *member) {
	id := m.conn.ID()
	delete(h.conns, id)
	if set, ok := h.users[m.userID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(h.users, m.userID)
		}
	}
}

// MarkAlive records a probe response for the connection.
func (h *Hub) MarkAlive(connID string) {
	h.mu.RLock()
	m, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		m.alive.Store(true)
	}
}

// SendToUser delivers msg to every open connection of userID. It is a no-op
// when the user has none; clients refetch state on reconnect.
func (h *Hub) SendToUser(userID string, msg Message) {
	payload, ok := h.encode(msg)
	if !ok {
		return
	}
	h.deliver(h.userMembers(userID), payload)
}

// Broadcast delivers msg to every open connection.
func (h *Hub) Broadcast(msg Message) {
	payload, ok := h.encode(msg)
	if !ok {
		return
	}
	h.deliver(h.members(nil), payload)
}

// BroadcastExceptUser delivers msg to every open connection not owned by userID.
func (h *Hub) BroadcastExceptUser(userID string, msg Message) {
	payload, ok := h.encode(msg)
	if !ok {
		return
	}
	h.deliver(h.members(func(m *member) bool { return m.userID != userID }), payload)
}

// ConnectionCount returns the number of open connections for userID.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// UserCount returns how many users hold at least one connection.
func (h *Hub) UserCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// Sweep runs one liveness cycle: connections that did not answer the previous
// probe are closed, the rest are marked not-alive and probed again.
func (h *Hub) Sweep() {
	for _, m := range h.members(nil) {
		if !m.alive.Load() {
			h.log.Info("push connection missed two probes, closing",
				zap.String("user_id", m.userID),
				zap.String("conn_id", m.conn.ID()))
			h.Unregister(m.conn)
			h.safely(m, "close", m.conn.Close)
			continue
		}
		m.alive.Store(false)
		h.safely(m, "ping", m.conn.Ping)
	}
}

// Run sweeps every interval until ctx is done.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultPingInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			h.Sweep()
		}
	}
}

// CloseAll closes every connection; used on shutdown.
func (h *Hub) CloseAll() {
	for _, m := range h.members(nil) {
		h.Unregister(m.conn)
		h.safely(m, "close", m.conn.Close)
	}
}

// members copies matching members so delivery runs without the lock held
// and tolerates concurrent removal. A nil keep matches everything.
func (h *Hub) members(keep func(*member) bool) []*member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*member, 0, len(h.conns))
	for _, m := range h.conns {
		if keep == nil || keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func (h *Hub) userMembers(userID string) []*member {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.users[userID]
	out := make([]*member, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	return out
}

func (h *Hub) deliver(targets []*member, payload []byte) {
	for _, m := range targets {
		h.safely(m, "send", func() error { return m.conn.Send(payload) })
	}
}

// safely runs op and contains both errors and panics to a single connection.
func (h *Hub) safely(m *member, op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("push connection panicked",
				zap.String("op", op),
				zap.String("conn_id", m.conn.ID()),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := fn(); err != nil {
		h.log.Debug("push connection op failed",
			zap.String("op", op),
			zap.String("conn_id", m.conn.ID()),
			zap.Error(err))
	}
}

func (h *Hub) encode(msg Message) ([]byte, bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("push message encode failed", zap.String("type", msg.Type), zap.Error(err))
		return nil, false
	}
	return payload, true
}
