package mutation

import (
	"strings"

	"github.com/charlesren/bgp_peer_manager/bgp"
	"github.com/charlesren/bgp_peer_manager/connection"
)

// Request 停用一个邻居，只使用一次
type Request struct {
	Device        connection.SessionConfig `json:"device" yaml:"device"`
	TargetAddress string                   `json:"target_address" yaml:"target_address"`
	TargetGroup   string                   `json:"target_group" yaml:"target_group"`
}

// NewRequest 用操作员输入的设备信息和选中的邻居构造请求
func NewRequest(device connection.SessionConfig, peer bgp.Peer) Request {
	return Request{
		Device:        device,
		TargetAddress: peer.Address,
		TargetGroup:   peer.Group,
	}
}

// Directive 校验目标并返回配置语句
func (r Request) Directive() (string, error) {
	return DeactivateDirective(strings.TrimSpace(r.TargetGroup), strings.TrimSpace(r.TargetAddress))
}

// Validate 在接触设备前检查全部输入
func (r Request) Validate() error {
	if err := r.Device.Validate(); err != nil {
		return err
	}
	_, err := r.Directive()
	return err
}
