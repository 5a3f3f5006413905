package bgp

import "strings"

const StateEstablished = "established"

// Peer 设备上报的一个BGP邻居，构造后不再修改
type Peer struct {
	Address string `json:"address" yaml:"address"`
	ASN     string `json:"asn" yaml:"asn"`
	State   string `json:"state" yaml:"state"`
	Group   string `json:"group" yaml:"group"`
}

// NewPeer 按设备原值构造，state统一为小写
func NewPeer(address, asn, state, group string) Peer {
	return Peer{
		Address: strings.TrimSpace(address),
		ASN:     strings.TrimSpace(asn),
		State:   NormalizeState(state),
		Group:   strings.TrimSpace(group),
	}
}

// NormalizeState 幂等
func NormalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

// BareAddress 去掉Junos附加的"+端口"后缀，如 203.0.113.1+179 -> 203.0.113.1
func BareAddress(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.IndexByte(address, '+'); i >= 0 {
		return address[:i]
	}
	return address
}

func (p Peer) BareAddress() string {
	return BareAddress(p.Address)
}

func (p Peer) IsEstablished() bool {
	return p.State == StateEstablished
}
