package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultChannel is the Redis channel shared by every API instance.
const DefaultChannel = "push:events"

const publishTimeout = 2 * time.Second

type fanoutScope string

const (
	scopeUser   fanoutScope = "user"
	scopeAll    fanoutScope = "all"
	scopeExcept fanoutScope = "except"
)

type fanoutEnvelope struct {
	Scope   fanoutScope     `json:"scope"`
	UserID  string          `json:"user_id,omitempty"`
	Message json.RawMessage `json:"message"`
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RedisFanout publishes pushes to Redis so every instance delivers them to
// its own connections. When publishing fails it delivers locally instead.
type RedisFanout struct {
	rdb     *redis.Client
	hub     *Hub
	channel string
	log     *zap.Logger
}

func NewRedisFanout(rdb *redis.Client, hub *Hub, log *zap.Logger) *RedisFanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisFanout{rdb: rdb, hub: hub, channel: DefaultChannel, log: log.Named("push_fanout")}
}

func (f *RedisFanout) SendToUser(userID string, msg Message) {
	if !f.publish(scopeUser, userID, msg) {
		f.hub.SendToUser(userID, msg)
	}
}

func (f *RedisFanout) Broadcast(msg Message) {
	if !f.publish(scopeAll, "", msg) {
		f.hub.Broadcast(msg)
	}
}

func (f *RedisFanout) BroadcastExceptUser(userID string, msg Message) {
	if !f.publish(scopeExcept, userID, msg) {
		f.hub.BroadcastExceptUser(userID, msg)
	}
}

func (f *RedisFanout) publish(scope fanoutScope, userID string, msg Message) bool {
	body, err := encodeEnvelope(scope, userID, msg)
	if err != nil {
		f.log.Error("fanout encode failed", zap.String("type", msg.Type), zap.Error(err))
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := f.rdb.Publish(ctx, f.channel, string(body)).Err(); err != nil {
		f.log.Warn("fanout publish failed, delivering locally", zap.Error(err))
		return false
	}
	return true
}

// Run subscribes to the channel and delivers every envelope to the local hub
// until ctx is done.
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", f.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			f.dispatch([]byte(msg.Payload))
		}
	}
}

func (f *RedisFanout) dispatch(body []byte) {
	var env fanoutEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		f.log.Warn("fanout envelope decode failed", zap.Error(err))
		return
	}
	var wm wireMessage
	if err := json.Unmarshal(env.Message, &wm); err != nil {
		f.log.Warn("fanout message decode failed", zap.Error(err))
		return
	}
	msg := Message{Type: wm.Type}
	if len(wm.Data) > 0 {
		msg.Data = wm.Data
	}

	switch env.Scope {
	case scopeUser:
		f.hub.SendToUser(env.UserID, msg)
	case scopeAll:
		f.hub.Broadcast(msg)
	case scopeExcept:
		f.hub.BroadcastExceptUser(env.UserID, msg)
	default:
		f.log.Warn("fanout scope unknown", zap.String("scope", string(env.Scope)))
	}
}

func encodeEnvelope(scope fanoutScope, userID string, msg Message) ([]byte, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(fanoutEnvelope{Scope: scope, UserID: userID, Message: raw})
}
