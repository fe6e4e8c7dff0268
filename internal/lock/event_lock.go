package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/roteiro/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyWebhookEvent = "roteiro:webhook:%s:%s"
	keySchedulerJob = "roteiro:scheduler:%s"
	defaultLockTTL  = 30 * time.Second
	pingTimeout     = 2 * time.Second
)

// EventLock serializes concurrent deliveries of the same gateway event
// across instances. A disabled EventLock grants every lock.
type EventLock struct {
	enabled bool
	client  *redis.Client
	locker  *Locker
	ttl     time.Duration
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Cfg       config.Config
	Log       *zap.Logger
}

func NewEventLock(p Params) (*EventLock, error) {
	redisCfg := p.Cfg.Redis
	if !redisCfg.Enabled {
		return &EventLock{}, nil
	}

	addr := strings.TrimSpace(redisCfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required when REDIS_ENABLED is set")
	}

	ttl := time.Duration(redisCfg.LockTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = defaultLockTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(redisCfg.Password),
		DB:       redisCfg.DB,
	})
	l := &EventLock{
		enabled: true,
		client:  client,
		locker:  NewLocker(client),
		ttl:     ttl,
	}

	log := p.Log.Named("lock")
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				// Deliveries fall back to database idempotency while redis is down.
				log.Warn("redis ping failed", zap.String("addr", addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return l, nil
}

func (l *EventLock) Enabled() bool {
	return l != nil && l.enabled
}

func (l *EventLock) TryLockEvent(ctx context.Context, provider, eventID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, EventKey(provider, eventID), l.ttl)
}

func (l *EventLock) ReleaseEvent(ctx context.Context, provider, eventID, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, EventKey(provider, eventID), token)
}

// TryLockJob keeps a scheduled job to one instance for at most ttl.
func (l *EventLock) TryLockJob(ctx context.Context, job string, ttl time.Duration) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, JobKey(job), ttl)
}

func (l *EventLock) ReleaseJob(ctx context.Context, job, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, JobKey(job), token)
}

func JobKey(job string) string {
	return fmt.Sprintf(keySchedulerJob, strings.TrimSpace(job))
}

func EventKey(provider, eventID string) string {
	return fmt.Sprintf(keyWebhookEvent, strings.ToLower(strings.TrimSpace(provider)), strings.TrimSpace(eventID))
}
