package connection

// SessionState 会话状态枚举
type SessionState int

const (
	// StateDisconnected 尚未建立连接
	StateDisconnected SessionState = iota
	// StateConnecting 正在建立连接和认证
	StateConnecting
	// StateConnected 已认证，可以执行读操作和配置暂存
	StateConnected
	// StateDropped 检测到连接中断，只能关闭
	StateDropped
	// StateClosed 已关闭
	StateClosed
)

// String 返回会话状态的字符串表示
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateDropped:
		return "Dropped"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// CanTransition 检查是否可以从当前状态转换到目标状态
func CanTransition(currentState, targetState SessionState) bool {
	switch currentState {
	case StateDisconnected:
		return targetState == StateConnecting || targetState == StateClosed
	case StateConnecting:
		// 认证失败直接回到断开状态
		return targetState == StateConnected || targetState == StateDisconnected ||
			targetState == StateClosed
	case StateConnected:
		return targetState == StateDropped || targetState == StateClosed
	case StateDropped:
		return targetState == StateClosed
	case StateClosed:
		// 已关闭状态不能转换到任何其他状态
		return false
	default:
		return false
	}
}

// GetValidTransitions 获取当前状态的有效转换目标状态列表
func GetValidTransitions(currentState SessionState) []SessionState {
	var validStates []SessionState
	for targetState := StateDisconnected; targetState <= StateClosed; targetState++ {
		if CanTransition(currentState, targetState) {
			validStates = append(validStates, targetState)
		}
	}
	return validStates
}

// IsTerminalState 检查是否为终止状态
func IsTerminalState(state SessionState) bool {
	return state == StateClosed
}

// IsOperationalState 只有Connected可以执行设备操作
func IsOperationalState(state SessionState) bool {
	return state == StateConnected
}
