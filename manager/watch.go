package manager

import (
	"context"
	"time"

	"github.com/charlesren/bgp_peer_manager/bgp"
	"github.com/charlesren/bgp_peer_manager/connection"
	"github.com/charlesren/ylog"
)

// intervalTicker 按固定间隔发出执行信号，上一轮未结束时丢弃本次信号
type intervalTicker struct {
	interval   time.Duration
	execNotify chan struct{}
	ticker     *time.Ticker
	stopChan   chan struct{}
}

func newIntervalTicker(interval time.Duration) *intervalTicker {
	if interval <= 0 {
		interval = time.Second
	}
	t := &intervalTicker{
		interval:   interval,
		execNotify: make(chan struct{}, 1),
		ticker:     time.NewTicker(interval),
		stopChan:   make(chan struct{}),
	}
	go t.schedule()
	return t
}

func (t *intervalTicker) schedule() {
	for {
		select {
		case <-t.ticker.C:
			select {
			case t.execNotify <- struct{}{}:
			default:
				ylog.Warnf("Watch", "previous round still running, tick dropped (interval=%v)", t.interval)
			}
		case <-t.stopChan:
			return
		}
	}
}

func (t *intervalTicker) ExecNotify() <-chan struct{} {
	return t.execNotify
}

func (t *intervalTicker) Stop() {
	select {
	case <-t.stopChan:
	default:
		close(t.stopChan)
	}
	t.ticker.Stop()
}

// Watch 立即查询一次，之后按interval周期查询，直到ctx结束或Manager停止。
// 每轮都使用新会话；单轮失败交给onResult处理，不会终止循环。
func (m *Manager) Watch(ctx context.Context, cfg connection.SessionConfig, filter bgp.FilterPredicate, interval time.Duration, onResult func(*QueryResult, error)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, err := bgp.ParseFilter(string(filter)); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopWatch := context.AfterFunc(m.baseCtx, cancel)
	defer stopWatch()

	ticker := newIntervalTicker(interval)
	defer ticker.Stop()
	ylog.Infof("Watch", "%s: watching %s peers every %v", cfg.Host, filter, ticker.interval)

	round := func() {
		if ctx.Err() != nil {
			return
		}
		result, err := m.QueryPeers(ctx, cfg, filter)
		if ctx.Err() != nil {
			return
		}
		onResult(result, err)
	}

	round()
	for {
		select {
		case <-ctx.Done():
			ylog.Infof("Watch", "%s: watch stopped", cfg.Host)
			return nil
		case <-ticker.ExecNotify():
			round()
		}
	}
}
