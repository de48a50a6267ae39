package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/cache"
	"github.com/any-hub/streamcache/internal/coordinator"
	"github.com/any-hub/streamcache/internal/logging"
)

// DefaultStartDelay 是回到前台后重新开始播放前的等待时间。
const DefaultStartDelay = 300 * time.Millisecond

// Cache 是 Manager 依赖的缓存操作，*coordinator.Coordinator 满足该接口。
type Cache interface {
	Resolve(ctx context.Context, src cache.Source) (coordinator.Playable, error)
	BeginCaching(ctx context.Context, src cache.Source) error
	StopCaching(ctx context.Context, src cache.Source) error
}

// ManagerOptions 汇总 Manager 的依赖。
type ManagerOptions struct {
	Cache      Cache
	Engine     Engine
	Logger     *logrus.Logger
	StartDelay time.Duration
	OnStatus   func(Status)
}

// Manager 把当前视频地址、缓存解析与 Player 串起来，并处理前后台切换。
type Manager struct {
	cache      Cache
	player     *Player
	logger     *logrus.Logger
	startDelay time.Duration

	mu      sync.Mutex
	current cache.Source
	// gen 在每次 Stop/重新开始时递增，用于丢弃过期的解析结果。
	gen   uint64
	timer *time.Timer
}

// NewManager 创建 Manager 与其持有的 Player。
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Cache == nil {
		return nil, errors.New("cache is required")
	}
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	delay := opts.StartDelay
	if delay <= 0 {
		delay = DefaultStartDelay
	}
	return &Manager{
		cache:      opts.Cache,
		player:     newPlayer(opts.Engine, logger, opts.OnStatus),
		logger:     logger,
		startDelay: delay,
	}, nil
}

// Configure 设置当前视频地址（零值表示没有视频）并返回 Player。
func (m *Manager) Configure(src cache.Source) *Player {
	m.mu.Lock()
	m.current = src
	m.mu.Unlock()
	return m.player
}

// Player 返回 Manager 持有的 Player。
func (m *Manager) Player() *Player { return m.player }

// StartPlayback 解析当前地址并开始播放；期间若被 StopPlayback 打断则丢弃结果。
func (m *Manager) StartPlayback(ctx context.Context) error {
	m.mu.Lock()
	src := m.current
	m.gen++
	gen := m.gen
	m.mu.Unlock()
	if src.IsZero() {
		return nil
	}

	playable, err := m.cache.Resolve(ctx, src)
	if err != nil {
		m.logger.WithError(err).WithFields(logging.PlaybackFields(src.String(), "", "")).Warn("playback_resolve_failed")
		return err
	}

	m.mu.Lock()
	stale := gen != m.gen
	m.mu.Unlock()
	if stale {
		return nil
	}

	if err := m.player.SetItem(&playable); err != nil {
		m.logger.WithError(err).WithFields(logging.PlaybackFields(src.String(), playable.Kind.String(), "")).
			Warn("playback_load_failed")
		return err
	}
	m.logger.WithFields(logging.PlaybackFields(src.String(), playable.Kind.String(), "")).Debug("playback_started")
	m.player.Play()
	return nil
}

// StopPlayback 放弃进行中的解析，停止播放并清空条目。
func (m *Manager) StopPlayback() {
	m.mu.Lock()
	if m.current.IsZero() {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.mu.Unlock()

	m.player.Stop()
	if err := m.player.SetItem(nil); err != nil {
		m.logger.WithError(err).WithField("action", "stop_playback").Warn("playback_unload_failed")
	}
}

// EnterForeground 在延迟后重新开始播放，重复调用只保留最后一次。
func (m *Manager) EnterForeground() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.IsZero() {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.startDelay, func() {
		m.mu.Lock()
		m.timer = nil
		m.mu.Unlock()
		if err := m.StartPlayback(context.Background()); err != nil {
			m.logger.WithError(err).WithField("action", "enter_foreground").Warn("playback_restart_failed")
		}
	})
}

// EnterBackground 取消待执行的重新播放并停止播放。
func (m *Manager) EnterBackground() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	m.StopPlayback()
}

// ToggleMute 切换静音状态并返回新值。
func (m *Manager) ToggleMute() bool {
	muted := !m.player.Muted()
	m.player.SetMuted(muted)
	return muted
}

// StartCaching 透传给缓存。
func (m *Manager) StartCaching(ctx context.Context, src cache.Source) error {
	return m.cache.BeginCaching(ctx, src)
}

// StopCaching 透传给缓存。
func (m *Manager) StopCaching(ctx context.Context, src cache.Source) error {
	return m.cache.StopCaching(ctx, src)
}

// Close 取消定时器并停止事件监听，不影响缓存。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()
	m.player.close()
}
