package connection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/charlesren/ylog"
)

// Operations 会话上的设备操作。Session本身和Exclusive回调中的参数都实现它
type Operations interface {
	Execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error)
	StageConfig(ctx context.Context, change *ConfigChange) (*ConfigHandle, error)
	Validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error)
	Commit(ctx context.Context, handle *ConfigHandle) error
	Discard(ctx context.Context, handle *ConfigHandle) error
}

// Session 持有到一台路由器的一条已认证连接。
// 不在工作流之间共享；同一会话上的设备操作串行执行。
type Session struct {
	cfg       SessionConfig
	driver    ProtocolDriver
	collector MetricsCollector

	mu       sync.RWMutex // 保护state
	state    SessionState
	openedAt time.Time

	// 容量为1的信号量，等待时可被ctx取消
	opSem chan struct{}
}

type sessionOptions struct {
	factory   ProtocolFactory
	collector MetricsCollector
}

type SessionOption func(*sessionOptions)

// WithFactory 替换默认的协议工厂
func WithFactory(f ProtocolFactory) SessionOption {
	return func(o *sessionOptions) { o.factory = f }
}

func WithMetrics(c MetricsCollector) SessionOption {
	return func(o *sessionOptions) { o.collector = c }
}

// Open 建立并认证会话。配置错误返回PRECONDITION，不会连接设备；
// 建立或认证失败返回CONNECTION。
func Open(ctx context.Context, cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &sessionOptions{collector: GetGlobalMetricsCollector()}
	for _, opt := range opts {
		opt(o)
	}
	if o.factory == nil {
		f, err := DefaultFactory(cfg.Protocol)
		if err != nil {
			return nil, errdefs.InvalidInput("protocol", err.Error())
		}
		o.factory = f
	}

	s := &Session{
		cfg:       *cfg.Clone(),
		collector: o.collector,
		state:     StateDisconnected,
		opSem:     make(chan struct{}, 1),
	}
	s.setState(StateConnecting)

	ylog.Infof("Session", "opening %s", cfg.GetConnectionString())
	start := time.Now()
	driver, err := o.factory.Create(ctx, s.cfg)
	if err == nil && driver == nil {
		err = fmt.Errorf("factory returned no driver")
	}
	if err != nil {
		s.setState(StateDisconnected)
		s.collector.IncrementSessionsFailed(cfg.Protocol)
		ylog.Errorf("Session", "open %s failed after %v: %v", cfg.GetConnectionString(), time.Since(start), err)
		return nil, errdefs.Connection(err, "open session to %s", cfg.Address()).
			AddDetail("host", cfg.Host).
			AddDetail("protocol", string(cfg.Protocol))
	}

	s.driver = driver
	s.openedAt = time.Now()
	s.setState(StateConnected)
	s.collector.IncrementSessionsOpened(cfg.Protocol)
	ylog.Infof("Session", "session opened: %s (%v)", cfg.GetConnectionString(), time.Since(start))
	return s, nil
}

// IsConnected 会话已认证且传输仍然存活。检测到传输中断时会话转为Dropped
func (s *Session) IsConnected() bool {
	s.mu.RLock()
	state := s.state
	s.mu.RUnlock()
	if state != StateConnected {
		return false
	}
	if !s.driver.IsAlive() {
		s.markDropped(ErrTransportLost)
		return false
	}
	return true
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Host() string { return s.cfg.Host }

func (s *Session) Protocol() Protocol { return s.cfg.Protocol }

func (s *Session) OpenedAt() time.Time { return s.openedAt }

func (s *Session) Capability() ProtocolCapability {
	if s.driver == nil {
		return ProtocolCapability{}
	}
	return s.driver.GetCapability()
}

// Close 幂等，释放底层传输
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	driver := s.driver
	s.mu.Unlock()

	if driver == nil {
		return nil
	}
	s.collector.IncrementSessionsClosed(s.cfg.Protocol)
	if err := driver.Close(); err != nil {
		ylog.Warnf("Session", "close %s: %v", s.cfg.Address(), err)
		return fmt.Errorf("close session to %s: %w", s.cfg.Address(), err)
	}
	ylog.Debugf("Session", "session closed: %s", s.cfg.Address())
	return nil
}

func (s *Session) Execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
	if err := s.acquire(ctx, "execute"); err != nil {
		return nil, err
	}
	defer s.release()
	return s.execute(ctx, req)
}

func (s *Session) StageConfig(ctx context.Context, change *ConfigChange) (*ConfigHandle, error) {
	if err := s.acquire(ctx, "stage"); err != nil {
		return nil, err
	}
	defer s.release()
	return s.stage(ctx, change)
}

func (s *Session) Validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error) {
	if err := s.acquire(ctx, "validate"); err != nil {
		return nil, err
	}
	defer s.release()
	return s.validate(ctx, handle)
}

func (s *Session) Commit(ctx context.Context, handle *ConfigHandle) error {
	if err := s.acquire(ctx, "commit"); err != nil {
		return err
	}
	defer s.release()
	return s.commit(ctx, handle)
}

func (s *Session) Discard(ctx context.Context, handle *ConfigHandle) error {
	if err := s.acquire(ctx, "discard"); err != nil {
		return err
	}
	defer s.release()
	return s.discard(ctx, handle)
}

// Exclusive 在整个回调期间独占会话，回调内的操作不会与其他调用交错
func (s *Session) Exclusive(ctx context.Context, fn func(ops Operations) error) error {
	if err := s.acquire(ctx, "exclusive"); err != nil {
		return err
	}
	defer s.release()
	return fn(exclusiveOps{s})
}

type exclusiveOps struct{ s *Session }

func (o exclusiveOps) Execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
	return o.s.execute(ctx, req)
}

func (o exclusiveOps) StageConfig(ctx context.Context, change *ConfigChange) (*ConfigHandle, error) {
	return o.s.stage(ctx, change)
}

func (o exclusiveOps) Validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error) {
	return o.s.validate(ctx, handle)
}

func (o exclusiveOps) Commit(ctx context.Context, handle *ConfigHandle) error {
	return o.s.commit(ctx, handle)
}

func (o exclusiveOps) Discard(ctx context.Context, handle *ConfigHandle) error {
	return o.s.discard(ctx, handle)
}

func (s *Session) execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
	if req == nil || req.RPC == "" {
		return nil, fmt.Errorf("request rpc cannot be empty")
	}
	r := *req
	if r.Format == "" {
		r.Format = FormatJSON
	}
	return runOp(ctx, s, "execute", s.cfg.OperationTimeout, func(ctx context.Context, d ProtocolDriver) (*ProtocolResponse, error) {
		if !d.GetCapability().SupportsReadFormat(r.Format) {
			return nil, fmt.Errorf("%s read format %q: %w", s.cfg.Protocol, r.Format, ErrUnsupportedFormat)
		}
		return d.Execute(ctx, &r)
	})
}

func (s *Session) stage(ctx context.Context, change *ConfigChange) (*ConfigHandle, error) {
	if change == nil || change.Text == "" {
		return nil, fmt.Errorf("config change cannot be empty")
	}
	return runOp(ctx, s, "stage", s.cfg.OperationTimeout, func(ctx context.Context, d ProtocolDriver) (*ConfigHandle, error) {
		if c := d.GetCapability(); !c.SupportsStaging {
			return nil, fmt.Errorf("%s: %w", s.cfg.Protocol, ErrStagingUnsupported)
		} else if !c.SupportsChangeFormat(change.Format) {
			return nil, fmt.Errorf("%s change format %q: %w", s.cfg.Protocol, change.Format, ErrUnsupportedFormat)
		}
		return d.StageConfig(ctx, change)
	})
}

func (s *Session) validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error) {
	if handle == nil {
		return nil, ErrUnknownHandle
	}
	return runOp(ctx, s, "validate", s.cfg.OperationTimeout, func(ctx context.Context, d ProtocolDriver) (*ValidationResult, error) {
		return d.Validate(ctx, handle)
	})
}

func (s *Session) commit(ctx context.Context, handle *ConfigHandle) error {
	if handle == nil {
		return ErrUnknownHandle
	}
	_, err := runOp(ctx, s, "commit", s.cfg.CommitTimeout, func(ctx context.Context, d ProtocolDriver) (struct{}, error) {
		return struct{}{}, d.Commit(ctx, handle)
	})
	return err
}

func (s *Session) discard(ctx context.Context, handle *ConfigHandle) error {
	if handle == nil {
		return ErrUnknownHandle
	}
	_, err := runOp(ctx, s, "discard", s.cfg.OperationTimeout, func(ctx context.Context, d ProtocolDriver) (struct{}, error) {
		return struct{}{}, d.Discard(ctx, handle)
	})
	return err
}

// runOp 检查会话状态后执行驱动调用。未连接时不触碰驱动，直接返回SESSION_CLOSED；
// 传输中断或操作超时时标记会话为Dropped并返回CONNECTION；调用方取消不影响会话状态。
// 其他驱动错误原样返回，由调用方分类
func runOp[T any](ctx context.Context, s *Session, op string, timeout time.Duration, fn func(context.Context, ProtocolDriver) (T, error)) (T, error) {
	var zero T
	if !s.IsConnected() {
		if s.State() == StateDropped {
			return zero, errdefs.SessionClosed(op).AddDetail("reason", "connection dropped")
		}
		return zero, errdefs.SessionClosed(op)
	}

	start := time.Now()
	val, err := callWithContext(ctx, timeout, func(ctx context.Context) (T, error) {
		return fn(ctx, s.driver)
	})
	s.collector.RecordOperation(s.cfg.Protocol, op, time.Since(start), err)
	if err == nil {
		ylog.Debugf("Session", "%s on %s took %v", op, s.cfg.Address(), time.Since(start))
		return val, nil
	}

	if isCancellation(ctx, err) && s.driver.IsAlive() {
		ylog.Warnf("Session", "%s on %s cancelled: %v", op, s.cfg.Address(), err)
		return zero, fmt.Errorf("%s on %s: %w", op, s.cfg.Address(), err)
	}
	if isConnectionLoss(err) || !s.driver.IsAlive() {
		s.markDropped(err)
		return zero, errdefs.Connection(err, "%s on %s", op, s.cfg.Address()).
			AddDetail("operation", op).
			AddDetail("host", s.cfg.Host)
	}
	ylog.Warnf("Session", "%s on %s failed: %v", op, s.cfg.Address(), err)
	return zero, err
}

func (s *Session) acquire(ctx context.Context, op string) error {
	select {
	case s.opSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: waiting for session: %w", op, ctx.Err())
	}
}

func (s *Session) release() {
	<-s.opSem
}

func (s *Session) setState(target SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.state, target) {
		ylog.Warnf("Session", "invalid state transition %s -> %s", s.state, target)
		return
	}
	s.state = target
}

func (s *Session) markDropped(cause error) {
	s.mu.Lock()
	if !CanTransition(s.state, StateDropped) {
		s.mu.Unlock()
		return
	}
	s.state = StateDropped
	s.mu.Unlock()

	s.collector.IncrementSessionsDropped(s.cfg.Protocol)
	ylog.Warnf("Session", "session to %s dropped: %v", s.cfg.Address(), cause)
}
