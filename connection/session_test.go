package connection

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMockSession(t *testing.T, d *MockProtocolDriver, cfg SessionConfig) *Session {
	t.Helper()
	s, err := Open(context.Background(), cfg, WithFactory(factoryFor(d)), WithMetrics(NewDefaultMetricsCollector()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenRejectsInvalidConfigBeforeDialing(t *testing.T) {
	factory := &MockProtocolFactory{}
	cfg := testSessionConfig()
	cfg.Password = ""

	s, err := Open(context.Background(), cfg, WithFactory(factory))
	assert.Nil(t, s)
	assert.True(t, errors.Is(err, errdefs.ErrPrecondition))
	assert.Equal(t, int32(0), factory.CreateCalls.Load(), "no device contact on precondition failure")
}

func TestOpenFactoryFailureIsConnectionError(t *testing.T) {
	collector := NewDefaultMetricsCollector()
	factory := &MockProtocolFactory{
		CreateFunc: func(ctx context.Context, config SessionConfig) (ProtocolDriver, error) {
			return nil, errors.New("authentication failed")
		},
	}

	s, err := Open(context.Background(), testSessionConfig(), WithFactory(factory), WithMetrics(collector))
	assert.Nil(t, s)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConnection))
	assert.Contains(t, err.Error(), "authentication failed")
	assert.Equal(t, int64(1), collector.GetMetrics().SessionMetrics[ProtocolNetconf].Failed)
}

func TestSessionExecute(t *testing.T) {
	var got *ProtocolRequest
	d := &MockProtocolDriver{
		ExecuteFunc: func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
			got = req
			return &ProtocolResponse{Success: true, Format: req.Format, RawData: []byte(`{}`)}, nil
		},
	}
	s := openMockSession(t, d, testSessionConfig())

	require.True(t, s.IsConnected())
	resp, err := s.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, FormatJSON, got.Format, "format defaults to json")
}

func TestSessionClosedNeverTouchesDriver(t *testing.T) {
	d := &MockProtocolDriver{}
	s := openMockSession(t, d, testSessionConfig())
	require.NoError(t, s.Close())

	assert.False(t, s.IsConnected())
	_, err := s.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	assert.True(t, errors.Is(err, errdefs.ErrSessionClosed))

	_, err = s.StageConfig(context.Background(), &ConfigChange{Text: "deactivate x", Format: FormatSet})
	assert.True(t, errors.Is(err, errdefs.ErrSessionClosed))

	err = s.Commit(context.Background(), &ConfigHandle{ID: "h1"})
	assert.True(t, errors.Is(err, errdefs.ErrSessionClosed))

	assert.Equal(t, int32(0), d.ExecuteCalls.Load())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	d := &MockProtocolDriver{}
	s := openMockSession(t, d, testSessionConfig())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), d.CloseCalls.Load())
	assert.Equal(t, StateClosed, s.State())
}

func TestSessionCancelKeepsConnection(t *testing.T) {
	started := make(chan struct{})
	d := &MockProtocolDriver{
		ExecuteFunc: func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
			if req.RPC == "get-bgp-neighbor-information" {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}
			return &ProtocolResponse{Success: true}, nil
		},
	}
	cfg := testSessionConfig()
	cfg.OperationTimeout = time.Second
	s := openMockSession(t, d, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := s.Execute(ctx, &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, errors.Is(err, errdefs.ErrConnection))
	assert.Equal(t, StateConnected, s.State())

	_, err = s.Execute(context.Background(), &ProtocolRequest{RPC: "get-software-information"})
	assert.NoError(t, err, "session stays usable after a cancelled call")
}

func TestSessionCancelDropsWhenDriverHangs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	d := &MockProtocolDriver{
		ExecuteFunc: func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
			close(started)
			<-release
			return nil, nil
		},
	}
	cfg := testSessionConfig()
	cfg.OperationTimeout = 20 * time.Millisecond
	s := openMockSession(t, d, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := s.Execute(ctx, &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConnection))
	assert.True(t, errors.Is(err, ErrOperationTimeout))
	assert.Equal(t, StateDropped, s.State())
}

func TestSessionTimeoutDropsConnection(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	d := &MockProtocolDriver{
		ExecuteFunc: func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
			<-release
			return nil, nil
		},
	}
	cfg := testSessionConfig()
	cfg.OperationTimeout = 20 * time.Millisecond
	s := openMockSession(t, d, cfg)

	_, err := s.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrConnection))
	assert.True(t, errors.Is(err, ErrOperationTimeout))
	assert.Equal(t, StateDropped, s.State())

	_, err = s.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	assert.True(t, errors.Is(err, errdefs.ErrSessionClosed))
	assert.Equal(t, int32(1), d.ExecuteCalls.Load())
}

func TestSessionTransportLossOnError(t *testing.T) {
	d := &MockProtocolDriver{
		ExecuteFunc: func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
			return nil, io.EOF
		},
	}
	s := openMockSession(t, d, testSessionConfig())

	_, err := s.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	assert.True(t, errors.Is(err, errdefs.ErrConnection))
	assert.False(t, s.IsConnected())
}

func TestSessionDeviceErrorPassesThrough(t *testing.T) {
	d := &MockProtocolDriver{
		ExecuteFunc: func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
			return nil, ErrRPCFailed
		},
	}
	s := openMockSession(t, d, testSessionConfig())

	_, err := s.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	assert.True(t, errors.Is(err, ErrRPCFailed))
	assert.Nil(t, errdefs.Get(err), "device errors are classified by the caller")
	assert.True(t, s.IsConnected())
}

func TestSessionIsConnectedDetectsDeadTransport(t *testing.T) {
	var alive atomic.Bool
	alive.Store(true)
	d := &MockProtocolDriver{IsAliveFunc: alive.Load}
	s := openMockSession(t, d, testSessionConfig())

	assert.True(t, s.IsConnected())
	alive.Store(false)
	assert.False(t, s.IsConnected())
	assert.Equal(t, StateDropped, s.State())
}

func TestSessionStagingUnsupported(t *testing.T) {
	d := &MockProtocolDriver{GetCapabilityFunc: func() ProtocolCapability { return SSHCapability }}
	cfg := testSessionConfig()
	cfg.Protocol = ProtocolSSH
	cfg.Port = 22
	s := openMockSession(t, d, cfg)

	_, err := s.StageConfig(context.Background(), &ConfigChange{Text: "deactivate x", Format: FormatSet})
	assert.True(t, errors.Is(err, ErrStagingUnsupported))
}

func TestSessionExclusiveSerializesOperations(t *testing.T) {
	d := &MockProtocolDriver{
		ExecuteFunc: func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
			return &ProtocolResponse{Success: true}, nil
		},
	}
	s := openMockSession(t, d, testSessionConfig())

	inside := make(chan struct{})
	leave := make(chan struct{})
	exclusiveDone := make(chan error, 1)
	go func() {
		exclusiveDone <- s.Exclusive(context.Background(), func(ops Operations) error {
			close(inside)
			<-leave
			_, err := ops.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
			return err
		})
	}()
	<-inside

	// 独占期间其他调用必须等待
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Execute(ctx, &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	close(leave)
	require.NoError(t, <-exclusiveDone)

	_, err = s.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	assert.NoError(t, err)
}

func TestSessionRecordsOperationMetrics(t *testing.T) {
	collector := NewDefaultMetricsCollector()
	d := &MockProtocolDriver{
		ExecuteFunc: func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
			return &ProtocolResponse{Success: true}, nil
		},
	}
	s, err := Open(context.Background(), testSessionConfig(), WithFactory(factoryFor(d)), WithMetrics(collector))
	require.NoError(t, err)

	_, err = s.Execute(context.Background(), &ProtocolRequest{RPC: "get-bgp-neighbor-information"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	snap := collector.GetMetrics()
	assert.Equal(t, int64(1), snap.SessionMetrics[ProtocolNetconf].Opened)
	assert.Equal(t, int64(1), snap.SessionMetrics[ProtocolNetconf].Closed)
	assert.Equal(t, int64(1), snap.OperationMetrics[ProtocolNetconf]["execute"].Count)
	assert.Zero(t, snap.OperationMetrics[ProtocolNetconf]["execute"].Errors)
}
