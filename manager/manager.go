package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charlesren/bgp_peer_manager/bgp"
	"github.com/charlesren/bgp_peer_manager/connection"
	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/charlesren/bgp_peer_manager/mutation"
	"github.com/charlesren/ylog"
)

// PeerSession 查询工作流使用的会话
type PeerSession interface {
	bgp.Querier
	Close() error
}

type SessionOpener func(ctx context.Context, cfg connection.SessionConfig) (PeerSession, error)

// Publisher 查询结果推送
type Publisher interface {
	Publish(ctx context.Context, router string, filter bgp.FilterPredicate, peers []bgp.Peer) error
}

// QueryResult 一次查询的结果，Peers是过滤后的列表
type QueryResult struct {
	Host        string              `json:"host" yaml:"host"`
	Filter      bgp.FilterPredicate `json:"filter" yaml:"filter"`
	Peers       []bgp.Peer          `json:"peers" yaml:"peers"`
	Summary     bgp.Summary         `json:"summary" yaml:"summary"`
	CollectedAt time.Time           `json:"collected_at" yaml:"collected_at"`
}

// Manager 查询和变更工作流，每个工作流独占并最终关闭自己的会话
type Manager struct {
	open       SessionOpener
	controller *mutation.Controller
	retry      connection.RetryPolicy
	publisher  Publisher

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	jobs    map[string]jobHandle
}

type Option func(*Manager)

func WithSessionOpener(open SessionOpener) Option {
	return func(m *Manager) {
		m.open = open
	}
}

func WithController(c *mutation.Controller) Option {
	return func(m *Manager) {
		m.controller = c
	}
}

// WithConnectRetries 建立查询会话失败时的重试次数，只重试连接错误
func WithConnectRetries(retries int) Option {
	return func(m *Manager) {
		if retries <= 0 {
			m.retry = nil
			return
		}
		m.retry = &connection.ExponentialBackoffPolicy{
			BaseDelay:   time.Second,
			MaxDelay:    10 * time.Second,
			BackoffRate: 2.0,
			MaxAttempts: retries + 1,
			Jitter:      true,
			Retryable:   isConnectionError,
		}
	}
}

func WithRetryPolicy(p connection.RetryPolicy) Option {
	return func(m *Manager) {
		m.retry = p
	}
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		open:       openPeerSession,
		controller: mutation.NewController(),
		baseCtx:    ctx,
		stop:       cancel,
		jobs:       make(map[string]jobHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func openPeerSession(ctx context.Context, cfg connection.SessionConfig) (PeerSession, error) {
	s, err := connection.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func isConnectionError(err error) bool {
	return errdefs.CodeOf(err) == errdefs.ErrCodeConnection
}

// QueryPeers 打开会话、取邻居、过滤，任何路径上都关闭会话
func (m *Manager) QueryPeers(ctx context.Context, cfg connection.SessionConfig, filter bgp.FilterPredicate) (*QueryResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !filter.Valid() {
		return nil, errdefs.InvalidInput("filter", "must be one of all, established, not_established").
			AddDetail("value", string(filter))
	}

	s, err := m.openSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			ylog.Warnf("Manager", "%s: close session: %v", cfg.Host, cerr)
		}
	}()

	peers, err := bgp.FetchPeers(ctx, s)
	if err != nil {
		return nil, err
	}

	selected := bgp.Select(peers, filter)
	result := &QueryResult{
		Host:        cfg.Host,
		Filter:      filter,
		Peers:       selected,
		Summary:     bgp.Summarize(peers),
		CollectedAt: time.Now(),
	}
	ylog.Infof("Manager", "%s: %d of %d peers match %s", cfg.Host, len(selected), len(peers), filter)

	if m.publisher != nil {
		if err := m.publisher.Publish(ctx, cfg.Host, filter, selected); err != nil {
			ylog.Errorf("Manager", "%s: publish peers: %v", cfg.Host, err)
			return result, fmt.Errorf("publish peers of %s: %w", cfg.Host, err)
		}
	}
	return result, nil
}

func (m *Manager) openSession(ctx context.Context, cfg connection.SessionConfig) (PeerSession, error) {
	if m.retry == nil {
		return m.open(ctx, cfg)
	}

	var s PeerSession
	retrier := connection.NewRetrier(m.retry, 0).WithRetryCallback(func(attempt int, err error) {
		ylog.Warnf("Manager", "%s: connect attempt %d failed: %v", cfg.Host, attempt, err)
	})
	err := retrier.Execute(ctx, func(ctx context.Context) error {
		var err error
		s, err = m.open(ctx, cfg)
		return err
	})
	if err != nil {
		// 保留原始错误码
		if e := errdefs.Get(err); e != nil && e != err {
			return nil, errdefs.Wrap(e.Code, err, "open session to %s", cfg.Host)
		}
		return nil, err
	}
	return s, nil
}

// Deactivate 用新会话停用一个邻居
func (m *Manager) Deactivate(ctx context.Context, req mutation.Request) (*mutation.Outcome, error) {
	return m.controller.Deactivate(ctx, req)
}

// Stop 取消所有后台任务并等待结束
func (m *Manager) Stop() {
	m.stop()
	m.wg.Wait()
}
