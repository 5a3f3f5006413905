package mutation

import (
	"context"
	"sync"

	"github.com/charlesren/bgp_peer_manager/connection"
)

// fakeDevice 模拟设备候选配置：暂存、校验、提交、丢弃
type fakeDevice struct {
	mu        sync.Mutex
	calls     []string
	connected bool
	closed    int

	stageErr       error
	stageLeaves    bool // 暂存失败但候选配置已被修改
	validateErr    error
	validateResult *connection.ValidationResult
	commitErr      error
	discardErr     error
	exclusiveErr   error
	staged         []string
	committed      []string
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{connected: true, validateResult: &connection.ValidationResult{Passed: true}}
}

func (d *fakeDevice) Host() string      { return "r1" }
func (d *fakeDevice) IsConnected() bool { return d.connected }

func (d *fakeDevice) Close() error {
	d.closed++
	d.connected = false
	return nil
}

func (d *fakeDevice) Exclusive(ctx context.Context, fn func(ops connection.Operations) error) error {
	if d.exclusiveErr != nil {
		return d.exclusiveErr
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d)
}

func (d *fakeDevice) Execute(ctx context.Context, req *connection.ProtocolRequest) (*connection.ProtocolResponse, error) {
	d.calls = append(d.calls, "execute")
	return &connection.ProtocolResponse{Success: true}, nil
}

func (d *fakeDevice) StageConfig(ctx context.Context, change *connection.ConfigChange) (*connection.ConfigHandle, error) {
	d.calls = append(d.calls, "stage")
	if d.stageErr != nil {
		if d.stageLeaves {
			d.staged = append(d.staged, change.Text)
			return &connection.ConfigHandle{ID: "h1", Change: *change}, d.stageErr
		}
		return nil, d.stageErr
	}
	d.staged = append(d.staged, change.Text)
	return &connection.ConfigHandle{ID: "h1", Change: *change}, nil
}

func (d *fakeDevice) Validate(ctx context.Context, handle *connection.ConfigHandle) (*connection.ValidationResult, error) {
	d.calls = append(d.calls, "validate")
	return d.validateResult, d.validateErr
}

func (d *fakeDevice) Commit(ctx context.Context, handle *connection.ConfigHandle) error {
	d.calls = append(d.calls, "commit")
	if d.commitErr != nil {
		return d.commitErr
	}
	d.committed = append(d.committed, d.staged...)
	d.staged = nil
	return nil
}

func (d *fakeDevice) Discard(ctx context.Context, handle *connection.ConfigHandle) error {
	d.calls = append(d.calls, "discard")
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if d.discardErr != nil {
		return d.discardErr
	}
	d.staged = nil
	return nil
}

func openerFor(d *fakeDevice) Opener {
	return func(ctx context.Context, cfg connection.SessionConfig) (Session, error) {
		return d, nil
	}
}

type recordingRecorder struct {
	outcomes []*Outcome
	err      error
}

func (r *recordingRecorder) Record(ctx context.Context, o *Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return r.err
}
