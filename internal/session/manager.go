package session

import (
	"context"
	"time"

	"cadastral-api/internal/logger"
	"cadastral-api/internal/metrics"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

// Manager：会话表，空闲超过 TTL 的会话被淘汰并关闭其控制器
type Manager struct {
	cache *gocache.Cache
	opts  Options
}

func NewManager(ttl time.Duration, opts Options) *Manager {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	cleanup := ttl / 2
	if cleanup > time.Minute {
		cleanup = time.Minute
	}
	m := &Manager{cache: gocache.New(ttl, cleanup), opts: opts}
	m.cache.OnEvicted(func(id string, v interface{}) {
		if c, ok := v.(*Controller); ok {
			if err := c.Close(); err != nil {
				logger.L().Warn("session_close_error", "session", id, "err", err)
			}
		}
		metrics.SessionsActive.Dec()
		logger.L().Debug("session_evicted", "session", id)
	})
	return m
}

// Get：取会话并刷新其过期时间
func (m *Manager) Get(id string) (*Controller, bool) {
	if id == "" {
		return nil, false
	}
	v, ok := m.cache.Get(id)
	if !ok {
		return nil, false
	}
	c := v.(*Controller)
	m.cache.SetDefault(id, c)
	return c, true
}

// Create：新建会话；会话初始化不随请求取消
func (m *Manager) Create(ctx context.Context) (*Controller, error) {
	id := uuid.NewString()
	c, err := New(context.WithoutCancel(ctx), id, m.opts)
	if err != nil {
		return nil, err
	}
	m.cache.SetDefault(id, c)
	metrics.SessionsActive.Inc()
	return c, nil
}

// GetOrCreate：id 有效则复用，否则新建；第二个返回值表示是否新建
func (m *Manager) GetOrCreate(ctx context.Context, id string) (*Controller, bool, error) {
	if c, ok := m.Get(id); ok {
		return c, false, nil
	}
	c, err := m.Create(ctx)
	return c, err == nil, err
}

// Delete：立即结束会话
func (m *Manager) Delete(id string) {
	m.cache.Delete(id)
}

// Count：存活会话数
func (m *Manager) Count() int { return m.cache.ItemCount() }

// Close：结束全部会话
func (m *Manager) Close() {
	for id := range m.cache.Items() {
		m.cache.Delete(id)
	}
}
