package connection

import (
	"context"
	"time"
)

// ProtocolDriver 设备客户端能力，一个实例对应一条已认证的传输连接
type ProtocolDriver interface {
	ProtocolType() Protocol
	Close() error
	Execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error)

	// StageConfig 暂存未提交的配置。返回错误但handle非nil时，调用方仍需Discard
	StageConfig(ctx context.Context, change *ConfigChange) (*ConfigHandle, error)
	Validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error)
	Commit(ctx context.Context, handle *ConfigHandle) error
	Discard(ctx context.Context, handle *ConfigHandle) error

	IsAlive() bool
	GetCapability() ProtocolCapability
}

type ProtocolRequest struct {
	RPC    string            // 如 get-bgp-neighbor-information
	Params map[string]string // RPC参数，按名称排序后编码
	Format Format
}

type ProtocolResponse struct {
	Success  bool
	Format   Format
	RawData  []byte
	Warnings []string
}

type ConfigChange struct {
	Text   string
	Format Format
}

// ConfigHandle 暂存配置的句柄，只对创建它的驱动有效
type ConfigHandle struct {
	ID       string
	Change   ConfigChange
	Protocol Protocol
	StagedAt time.Time
}

type ValidationResult struct {
	Passed   bool
	Messages []string
}
