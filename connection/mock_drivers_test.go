package connection

import (
	"context"
	"errors"
	"sync/atomic"
)

type MockProtocolDriver struct {
	ProtocolTypeFunc  func() Protocol
	CloseFunc         func() error
	ExecuteFunc       func(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error)
	StageConfigFunc   func(ctx context.Context, change *ConfigChange) (*ConfigHandle, error)
	ValidateFunc      func(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error)
	CommitFunc        func(ctx context.Context, handle *ConfigHandle) error
	DiscardFunc       func(ctx context.Context, handle *ConfigHandle) error
	IsAliveFunc       func() bool
	GetCapabilityFunc func() ProtocolCapability

	ExecuteCalls atomic.Int32
	CloseCalls   atomic.Int32
}

func (m *MockProtocolDriver) ProtocolType() Protocol {
	if m.ProtocolTypeFunc != nil {
		return m.ProtocolTypeFunc()
	}
	return ProtocolNetconf
}

func (m *MockProtocolDriver) Close() error {
	m.CloseCalls.Add(1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockProtocolDriver) Execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
	m.ExecuteCalls.Add(1)
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, req)
	}
	return nil, errors.New("mock not implemented")
}

func (m *MockProtocolDriver) StageConfig(ctx context.Context, change *ConfigChange) (*ConfigHandle, error) {
	if m.StageConfigFunc != nil {
		return m.StageConfigFunc(ctx, change)
	}
	return &ConfigHandle{ID: "h1", Change: *change, Protocol: ProtocolNetconf}, nil
}

func (m *MockProtocolDriver) Validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, handle)
	}
	return &ValidationResult{Passed: true}, nil
}

func (m *MockProtocolDriver) Commit(ctx context.Context, handle *ConfigHandle) error {
	if m.CommitFunc != nil {
		return m.CommitFunc(ctx, handle)
	}
	return nil
}

func (m *MockProtocolDriver) Discard(ctx context.Context, handle *ConfigHandle) error {
	if m.DiscardFunc != nil {
		return m.DiscardFunc(ctx, handle)
	}
	return nil
}

func (m *MockProtocolDriver) IsAlive() bool {
	if m.IsAliveFunc != nil {
		return m.IsAliveFunc()
	}
	return true
}

func (m *MockProtocolDriver) GetCapability() ProtocolCapability {
	if m.GetCapabilityFunc != nil {
		return m.GetCapabilityFunc()
	}
	return NetconfCapability
}

type MockProtocolFactory struct {
	CreateFunc  func(ctx context.Context, config SessionConfig) (ProtocolDriver, error)
	CreateCalls atomic.Int32
}

func (m *MockProtocolFactory) Create(ctx context.Context, config SessionConfig) (ProtocolDriver, error) {
	m.CreateCalls.Add(1)
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, config)
	}
	return nil, errors.New("mock not implemented")
}

// factoryFor 返回总是创建指定驱动的工厂
func factoryFor(d ProtocolDriver) *MockProtocolFactory {
	return &MockProtocolFactory{
		CreateFunc: func(ctx context.Context, config SessionConfig) (ProtocolDriver, error) {
			return d, nil
		},
	}
}

func testSessionConfig() SessionConfig {
	cfg, err := NewConfigBuilder().
		WithBasicAuth("192.0.2.1", "ops", "secret").
		WithPort(830).
		Build()
	if err != nil {
		panic(err)
	}
	return *cfg
}
