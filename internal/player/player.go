// Package player 提供与具体解码引擎无关的播放状态机：Player 维护
// Stopped/Loading/Playing 状态，Manager 负责把缓存解析结果交给 Player。
package player

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/streamcache/internal/coordinator"
)

// Status 是对外暴露的播放状态。
type Status int

const (
	StatusStopped Status = iota
	StatusLoading
	StatusPlaying
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	default:
		return "stopped"
	}
}

// Input 是驱动状态机的输入：播放/停止命令，或由引擎条目状态归约出的就绪程度。
type Input int

const (
	InputPlayRemote Input = iota
	InputPlayLocal
	InputStop
	// InputNotReady：解码器尚未就绪。
	InputNotReady
	// InputBuffering：解码器就绪但缓冲不足以持续播放。
	InputBuffering
	// InputReady：解码器就绪且缓冲充足。
	InputReady
)

type transitionKey struct {
	from  Status
	input Input
}

// transitions 列出全部 (状态, 输入) 组合。远端条目播放时先进入 Loading；
// 就绪且缓冲充足时进入 Playing；一旦 Playing，缓冲波动不会回退状态。
var transitions = map[transitionKey]Status{
	{StatusStopped, InputPlayRemote}: StatusLoading,
	{StatusStopped, InputPlayLocal}:  StatusStopped,
	{StatusStopped, InputStop}:       StatusStopped,
	{StatusStopped, InputNotReady}:   StatusStopped,
	{StatusStopped, InputBuffering}:  StatusStopped,
	{StatusStopped, InputReady}:      StatusPlaying,

	{StatusLoading, InputPlayRemote}: StatusLoading,
	{StatusLoading, InputPlayLocal}:  StatusLoading,
	{StatusLoading, InputStop}:       StatusStopped,
	{StatusLoading, InputNotReady}:   StatusLoading,
	{StatusLoading, InputBuffering}:  StatusLoading,
	{StatusLoading, InputReady}:      StatusPlaying,

	{StatusPlaying, InputPlayRemote}: StatusLoading,
	{StatusPlaying, InputPlayLocal}:  StatusPlaying,
	{StatusPlaying, InputStop}:       StatusStopped,
	{StatusPlaying, InputNotReady}:   StatusPlaying,
	{StatusPlaying, InputBuffering}:  StatusPlaying,
	{StatusPlaying, InputReady}:      StatusPlaying,
}

// Transition 返回 from 在 input 作用下的下一个状态，表外组合保持不变。
func Transition(from Status, input Input) Status {
	if next, ok := transitions[transitionKey{from: from, input: input}]; ok {
		return next
	}
	return from
}

// ItemStatus 是引擎上报的当前条目状态。
type ItemStatus struct {
	Ready          bool
	LikelyToKeepUp bool
}

// Input 把条目状态归约为状态机输入。
func (s ItemStatus) Input() Input {
	switch {
	case !s.Ready:
		return InputNotReady
	case !s.LikelyToKeepUp:
		return InputBuffering
	default:
		return InputReady
	}
}

// EventType 区分引擎事件。
type EventType int

const (
	EventItemStatus EventType = iota
	EventItemEnded
)

// EngineEvent 由引擎在任意 goroutine 上发出。
type EngineEvent struct {
	Type   EventType
	Status ItemStatus
}

// Engine 抽象实际的解码/渲染实现。Load 传入 nil 表示移除当前条目。
type Engine interface {
	Load(item *coordinator.Playable) error
	Play()
	Pause()
	SeekToStart()
	SetMuted(muted bool)
	Events() <-chan EngineEvent
}

// Player 包装 Engine，维护状态与静音标记；默认静音。
type Player struct {
	engine   Engine
	logger   *logrus.Logger
	onStatus func(Status)

	mu        sync.Mutex
	status    Status
	muted     bool
	item      *coordinator.Playable
	observing bool

	done chan struct{}
	once sync.Once
}

func newPlayer(engine Engine, logger *logrus.Logger, onStatus func(Status)) *Player {
	p := &Player{
		engine:   engine,
		logger:   logger,
		onStatus: onStatus,
		muted:    true,
		done:     make(chan struct{}),
	}
	engine.SetMuted(true)
	go p.watch(engine.Events())
	return p
}

// Status 返回当前状态。
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Muted 返回当前静音状态。
func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Item 返回当前条目的副本。
func (p *Player) Item() (coordinator.Playable, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.item == nil {
		return coordinator.Playable{}, false
	}
	return *p.item, true
}

// SetItem 替换当前条目，nil 表示清空。
func (p *Player) SetItem(item *coordinator.Playable) error {
	p.mu.Lock()
	if item != nil {
		copied := *item
		item = &copied
	}
	p.item = item
	p.observing = false
	p.mu.Unlock()
	return p.engine.Load(item)
}

// Play 开始播放当前条目；远端条目先进入 Loading，等引擎就绪后才转为 Playing。
func (p *Player) Play() {
	p.mu.Lock()
	if p.item == nil {
		p.mu.Unlock()
		p.logger.WithField("action", "play").Debug("player_no_item")
		return
	}
	p.observing = true
	input := InputPlayLocal
	if p.item.IsRemote() {
		input = InputPlayRemote
	}
	changed, status := p.applyLocked(input)
	p.mu.Unlock()

	p.notify(changed, status)
	p.engine.Play()
}

// Stop 暂停引擎并回到 Stopped，此后不再响应条目就绪事件。
func (p *Player) Stop() {
	p.mu.Lock()
	p.observing = false
	changed, status := p.applyLocked(InputStop)
	p.mu.Unlock()

	p.notify(changed, status)
	p.engine.Pause()
}

// SetMuted 同步引擎静音状态。
func (p *Player) SetMuted(muted bool) {
	p.mu.Lock()
	p.muted = muted
	p.mu.Unlock()
	p.engine.SetMuted(muted)
}

func (p *Player) close() {
	p.once.Do(func() { close(p.done) })
}

func (p *Player) watch(events <-chan EngineEvent) {
	for {
		select {
		case <-p.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.handle(ev)
		}
	}
}

func (p *Player) handle(ev EngineEvent) {
	switch ev.Type {
	case EventItemStatus:
		// 只有 Play 与 Stop 之间才订阅条目状态，与引擎侧的观察者生命周期一致。
		p.mu.Lock()
		if !p.observing {
			p.mu.Unlock()
			return
		}
		changed, status := p.applyLocked(ev.Status.Input())
		p.mu.Unlock()
		p.notify(changed, status)
	case EventItemEnded:
		// 播放到结尾后回到开头循环。
		p.mu.Lock()
		hasItem := p.item != nil
		p.mu.Unlock()
		if hasItem {
			p.engine.SeekToStart()
			p.engine.Play()
		}
	}
}

func (p *Player) applyLocked(input Input) (bool, Status) {
	next := Transition(p.status, input)
	if next == p.status {
		return false, next
	}
	p.status = next
	return true, next
}

func (p *Player) notify(changed bool, status Status) {
	if changed && p.onStatus != nil {
		p.onStatus(status)
	}
}
