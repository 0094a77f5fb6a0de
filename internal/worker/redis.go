package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"duochat/internal/models"
	"duochat/internal/redis"
)

const (
	redisInvalidateChannel = "duochat:state:invalidate"
	redisStatePrefix       = "duochat:state:"
	redisStateTTL          = 30 * time.Minute
)

const (
	scopeUpdate = "update"
	scopeLogout = "logout"
)

type invalidateMessage struct {
	Origin   string `json:"origin"`
	Username string `json:"username"`
	Scope    string `json:"scope"`
}

// stateRedis mirrors session state so every instance behind a balancer sees
// the same mode, chat and drafts.
type stateRedis struct {
	client *redis.Client
	origin string
}

func newStateCache(client *redis.Client, origin string) *stateRedis {
	if client == nil {
		return nil
	}
	return &stateRedis{client: client, origin: origin}
}

// startListener delivers invalidations published by other instances until ctx is done.
func (r *stateRedis) startListener(ctx context.Context, handler func(invalidateMessage)) {
	if r == nil || handler == nil {
		return
	}
	pubsub, err := r.client.Subscribe(ctx, redisInvalidateChannel)
	if err != nil {
		log.Printf("state invalidation subscribe failed: %v", err)
		return
	}
	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var inv invalidateMessage
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					log.Printf("state invalidation decode failed: %v", err)
					continue
				}
				if inv.Origin == r.origin {
					continue
				}
				handler(inv)
			}
		}
	}()
}

func (r *stateRedis) publishInvalidation(username, scope string) {
	if r == nil {
		return
	}
	payload, err := json.Marshal(invalidateMessage{Origin: r.origin, Username: username, Scope: scope})
	if err != nil {
		log.Printf("state invalidation marshal failed: %v", err)
		return
	}
	if err := r.client.Publish(context.Background(), redisInvalidateChannel, string(payload)); err != nil {
		log.Printf("state publish invalidation failed: %v", err)
	}
}

func (r *stateRedis) store(st *models.SessionState) {
	if r == nil || st == nil || st.Username == "" {
		return
	}
	if err := r.client.SetJSON(context.Background(), redisStatePrefix+st.Username, st, redisStateTTL); err != nil {
		log.Printf("state mirror write failed: %v", err)
	}
}

func (r *stateRedis) load(username string) (*models.SessionState, bool) {
	if r == nil || username == "" {
		return nil, false
	}
	var st models.SessionState
	if err := r.client.GetJSON(context.Background(), redisStatePrefix+username, &st); err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			log.Printf("state mirror read failed: %v", err)
		}
		return nil, false
	}
	if st.Username != username {
		return nil, false
	}
	return &st, true
}

func (r *stateRedis) remove(username string) {
	if r == nil || username == "" {
		return
	}
	if err := r.client.Del(context.Background(), redisStatePrefix+username); err != nil {
		log.Printf("state mirror delete failed: %v", err)
	}
}
