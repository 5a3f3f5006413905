package connection

import "errors"

// 驱动层错误，会话层据此区分连接中断与设备拒绝
var (
	ErrTransportLost      = errors.New("transport lost")
	ErrOperationTimeout   = errors.New("operation timed out")
	ErrStagingUnsupported = errors.New("protocol does not support staged configuration")
	ErrChangePending      = errors.New("a staged change is already pending")
	ErrUnknownHandle      = errors.New("config handle does not match the pending change")
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrUnsupportedRPC     = errors.New("unsupported rpc")
	ErrRPCFailed          = errors.New("device returned rpc-error")
	ErrDriverClosed       = errors.New("driver closed")
)
