package connection

import (
	"context"
	"fmt"
)

// ProtocolFactory 建立已认证的驱动连接
type ProtocolFactory interface {
	Create(ctx context.Context, config SessionConfig) (ProtocolDriver, error)
}

// FactoryFunc 便于测试和组合
type FactoryFunc func(ctx context.Context, config SessionConfig) (ProtocolDriver, error)

func (f FactoryFunc) Create(ctx context.Context, config SessionConfig) (ProtocolDriver, error) {
	return f(ctx, config)
}

// DefaultFactory 按协议选择工厂
func DefaultFactory(p Protocol) (ProtocolFactory, error) {
	switch p {
	case ProtocolNetconf:
		return &NetconfFactory{}, nil
	case ProtocolScrapli:
		return &ScrapliFactory{}, nil
	case ProtocolSSH:
		return &SSHFactory{}, nil
	default:
		return nil, fmt.Errorf("no factory for protocol %q", p)
	}
}
