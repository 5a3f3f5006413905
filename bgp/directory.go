package bgp

import (
	"context"
	"time"

	"github.com/charlesren/bgp_peer_manager/connection"
	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/charlesren/ylog"
)

const NeighborRPC = "get-bgp-neighbor-information"

// Querier 读邻居所需的会话能力，*connection.Session 满足
type Querier interface {
	Host() string
	IsConnected() bool
	Execute(ctx context.Context, req *connection.ProtocolRequest) (*connection.ProtocolResponse, error)
}

type fetchOptions struct {
	format   connection.Format
	neighbor string
}

type FetchOption func(*fetchOptions)

// WithFormat 指定回复格式，默认json
func WithFormat(format connection.Format) FetchOption {
	return func(o *fetchOptions) {
		o.format = format
	}
}

// WithNeighbor 只查询一个邻居
func WithNeighbor(address string) FetchOption {
	return func(o *fetchOptions) {
		o.neighbor = BareAddress(address)
	}
}

// FetchPeers 一次RPC取回全部邻居，按设备顺序展开所有组。
// 失败时返回DeviceQuery错误，不会用空列表代替。
func FetchPeers(ctx context.Context, q Querier, opts ...FetchOption) ([]Peer, error) {
	o := fetchOptions{format: connection.FormatJSON}
	for _, opt := range opts {
		opt(&o)
	}

	if !q.IsConnected() {
		return nil, errdefs.SessionClosed("fetch peers")
	}

	req := &connection.ProtocolRequest{RPC: NeighborRPC, Format: o.format}
	if o.neighbor != "" {
		req.Params = map[string]string{"neighbor-address": o.neighbor}
	}

	start := time.Now()
	resp, err := q.Execute(ctx, req)
	if err != nil {
		if errdefs.IsCode(err, errdefs.ErrCodeSessionClosed) {
			return nil, err
		}
		ylog.Errorf("PeerDirectory", "%s: %s failed: %v", q.Host(), NeighborRPC, err)
		return nil, errdefs.DeviceQuery(err, "%s on %s failed", NeighborRPC, q.Host()).
			AddDetail("host", q.Host())
	}

	peers, err := DecodeNeighbors(resp.Format, resp.RawData)
	if err != nil {
		ylog.Errorf("PeerDirectory", "%s: decode %s reply: %v", q.Host(), resp.Format, err)
		return nil, errdefs.DeviceQuery(err, "unparsable %s reply from %s", NeighborRPC, q.Host()).
			AddDetail("host", q.Host()).
			AddDetail("format", string(resp.Format))
	}

	ylog.Infof("PeerDirectory", "%s: fetched %d peers in %v", q.Host(), len(peers), time.Since(start))
	return peers, nil
}
