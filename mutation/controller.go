package mutation

import (
	"context"
	"strings"
	"time"

	"github.com/charlesren/bgp_peer_manager/bgp"
	"github.com/charlesren/bgp_peer_manager/connection"
	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/charlesren/ylog"
	"github.com/google/uuid"
)

// Session 控制器需要的会话能力，*connection.Session 满足
type Session interface {
	Host() string
	IsConnected() bool
	Exclusive(ctx context.Context, fn func(ops connection.Operations) error) error
	Close() error
}

// Opener 为一次变更打开新会话
type Opener func(ctx context.Context, cfg connection.SessionConfig) (Session, error)

// Recorder 记录每次变更结果
type Recorder interface {
	Record(ctx context.Context, outcome *Outcome) error
}

// Outcome 一次停用调用的结果，失败时同样返回
type Outcome struct {
	ID                 string       `json:"id" yaml:"id"`
	Host               string       `json:"host" yaml:"host"`
	Group              string       `json:"group" yaml:"group"`
	Address            string       `json:"address" yaml:"address"`
	Directive          string       `json:"directive" yaml:"directive"`
	Phase              Phase        `json:"phase" yaml:"phase"`
	Transitions        []Transition `json:"transitions" yaml:"transitions"`
	Discarded          bool         `json:"discarded" yaml:"discarded"`
	ValidationMessages []string     `json:"validation_messages,omitempty" yaml:"validation_messages,omitempty"`
	StartedAt          time.Time    `json:"started_at" yaml:"started_at"`
	FinishedAt         time.Time    `json:"finished_at" yaml:"finished_at"`
	Err                error        `json:"-" yaml:"-"`
}

func (o *Outcome) Succeeded() bool {
	return o.Phase == PhaseCommitted && o.Err == nil
}

// Controller 执行 stage -> validate -> commit
type Controller struct {
	open     Opener
	recorder Recorder
}

type Option func(*Controller)

func WithOpener(open Opener) Option {
	return func(c *Controller) {
		c.open = open
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		c.recorder = r
	}
}

func NewController(opts ...Option) *Controller {
	c := &Controller{open: openSession}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func openSession(ctx context.Context, cfg connection.SessionConfig) (Session, error) {
	s, err := connection.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Deactivate 打开一个新会话执行停用，所有路径上都会关闭会话
func (c *Controller) Deactivate(ctx context.Context, req Request) (*Outcome, error) {
	directive, err := c.precheck(req)
	if err != nil {
		return nil, err
	}
	outcome, t := c.begin(req, directive)

	s, err := c.open(ctx, req.Device)
	if err != nil {
		t.abort()
		return c.finish(ctx, outcome, t, errdefs.Stage(err, "open session to %s", req.Device.Host))
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			ylog.Warnf("MutationController", "%s: close session: %v", s.Host(), cerr)
		}
	}()

	return c.finish(ctx, outcome, t, c.run(ctx, s, outcome, t))
}

// DeactivateOn 复用调用方已打开的会话，不负责关闭
func (c *Controller) DeactivateOn(ctx context.Context, s Session, req Request) (*Outcome, error) {
	directive, err := c.precheck(req)
	if err != nil {
		return nil, err
	}
	outcome, t := c.begin(req, directive)
	if s.Host() != "" {
		outcome.Host = s.Host()
	}
	return c.finish(ctx, outcome, t, c.run(ctx, s, outcome, t))
}

func (c *Controller) precheck(req Request) (string, error) {
	if err := req.Validate(); err != nil {
		ylog.Warnf("MutationController", "rejected request for %s/%s: %v", req.TargetGroup, req.TargetAddress, err)
		return "", err
	}
	return req.Directive()
}

func (c *Controller) begin(req Request, directive string) (*Outcome, *tracker) {
	outcome := &Outcome{
		ID:        uuid.NewString(),
		Host:      req.Device.Host,
		Group:     strings.TrimSpace(req.TargetGroup),
		Address:   bgp.BareAddress(req.TargetAddress),
		Directive: directive,
		Phase:     PhaseIdle,
		StartedAt: time.Now(),
	}
	ylog.Infof("MutationController", "[%s] %s: %s", outcome.ID, outcome.Host, directive)
	return outcome, newTracker()
}

func (c *Controller) run(ctx context.Context, s Session, outcome *Outcome, t *tracker) error {
	if !s.IsConnected() {
		t.abort()
		return errdefs.SessionClosed("deactivate peer")
	}

	var phaseErr error
	err := s.Exclusive(ctx, func(ops connection.Operations) error {
		phaseErr = c.apply(ctx, ops, outcome, t)
		return phaseErr
	})
	if phaseErr != nil {
		return phaseErr
	}
	if err != nil {
		// 未拿到会话，什么也没暂存
		t.abort()
		return errdefs.Stage(err, "acquire session on %s", outcome.Host)
	}
	return nil
}

// apply 在会话独占区内执行三个阶段，任何失败都先丢弃暂存的变更
func (c *Controller) apply(ctx context.Context, ops connection.Operations, outcome *Outcome, t *tracker) error {
	change := &connection.ConfigChange{Text: outcome.Directive, Format: connection.FormatSet}

	handle, err := ops.StageConfig(ctx, change)
	if err != nil {
		t.abort()
		e := errdefs.Stage(err, "stage change on %s", outcome.Host)
		if handle != nil {
			c.discard(ctx, ops, handle, outcome, e)
		}
		return e
	}
	if err := t.advance(PhaseStaged); err != nil {
		return errdefs.Stage(err, "stage change on %s", outcome.Host)
	}
	ylog.Debugf("MutationController", "[%s] staged as %s", outcome.ID, handle.ID)

	result, err := ops.Validate(ctx, handle)
	if err != nil {
		t.abort()
		e := errdefs.Validation(err, "validate change on %s", outcome.Host)
		c.discard(ctx, ops, handle, outcome, e)
		return e
	}
	outcome.ValidationMessages = result.Messages
	if !result.Passed {
		t.abort()
		e := errdefs.Validation(nil, "device rejected the change: %s", strings.Join(result.Messages, "; ")).
			AddDetail("messages", result.Messages)
		c.discard(ctx, ops, handle, outcome, e)
		return e
	}
	if err := t.advance(PhaseValidated); err != nil {
		return errdefs.Validation(err, "validate change on %s", outcome.Host)
	}

	if err := ops.Commit(ctx, handle); err != nil {
		t.abort()
		e := errdefs.Commit(err, "commit change on %s", outcome.Host)
		c.discard(ctx, ops, handle, outcome, e)
		return e
	}
	if err := t.advance(PhaseCommitted); err != nil {
		return errdefs.Commit(err, "commit change on %s", outcome.Host)
	}
	return nil
}

// discard 不受调用方ctx取消影响；丢弃失败只记入阶段错误的details
func (c *Controller) discard(ctx context.Context, ops connection.Operations, handle *connection.ConfigHandle, outcome *Outcome, phaseErr *errdefs.Error) {
	if err := ops.Discard(context.WithoutCancel(ctx), handle); err != nil {
		ylog.Errorf("MutationController", "[%s] discard %s failed: %v", outcome.ID, handle.ID, err)
		phaseErr.AddDetail("discarded", false).AddDetail("discard_error", err.Error())
		return
	}
	outcome.Discarded = true
	phaseErr.AddDetail("discarded", true)
	ylog.Infof("MutationController", "[%s] discarded staged change %s", outcome.ID, handle.ID)
}

func (c *Controller) finish(ctx context.Context, outcome *Outcome, t *tracker, err error) (*Outcome, error) {
	outcome.Phase = t.current
	outcome.Transitions = t.history
	outcome.FinishedAt = time.Now()
	outcome.Err = err

	if err != nil {
		ylog.Errorf("MutationController", "[%s] %s %s/%s aborted: %v", outcome.ID, outcome.Host, outcome.Group, outcome.Address, err)
	} else {
		ylog.Infof("MutationController", "[%s] %s committed in %v", outcome.ID, outcome.Host, outcome.FinishedAt.Sub(outcome.StartedAt))
	}

	if c.recorder != nil {
		// 设备侧结果已定，审计失败不改变返回值
		if rerr := c.recorder.Record(context.WithoutCancel(ctx), outcome); rerr != nil {
			ylog.Warnf("MutationController", "[%s] audit record failed: %v", outcome.ID, rerr)
		}
	}
	return outcome, err
}
