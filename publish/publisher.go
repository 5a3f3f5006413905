package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/charlesren/bgp_peer_manager/bgp"
	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/charlesren/ylog"
	consulapi "github.com/hashicorp/consul/api"
)

const DefaultPrefix = "bgp-peer-manager"

// KV consulapi.KV中用到的部分
type KV interface {
	Put(p *consulapi.KVPair, q *consulapi.WriteOptions) (*consulapi.WriteMeta, error)
	DeleteTree(prefix string, w *consulapi.WriteOptions) (*consulapi.WriteMeta, error)
}

type Config struct {
	Address string `mapstructure:"address" yaml:"address"`
	Token   string `mapstructure:"token" yaml:"token"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix"`
}

// Summary 写入 <prefix>/<router>/summary
type Summary struct {
	Router         string           `json:"router"`
	Filter         string           `json:"filter"`
	Total          int              `json:"total"`
	Established    int              `json:"established"`
	NotEstablished int              `json:"not_established"`
	ByState        []bgp.StateCount `json:"by_state"`
	CollectedAt    time.Time        `json:"collected_at"`
}

// Publisher 把邻居快照推送到Consul KV，供监控系统watch
type Publisher struct {
	kv     KV
	prefix string
	now    func() time.Time
}

// NewConsulPublisher 按配置创建Consul客户端
func NewConsulPublisher(cfg Config) (*Publisher, error) {
	ccfg := consulapi.DefaultConfig()
	if cfg.Address != "" {
		ccfg.Address = cfg.Address
	}
	if cfg.Token != "" {
		ccfg.Token = cfg.Token
	}
	cli, err := consulapi.NewClient(ccfg)
	if err != nil {
		return nil, fmt.Errorf("create consul client: %w", err)
	}
	return NewPublisher(cli.KV(), cfg.Prefix), nil
}

func NewPublisher(kv KV, prefix string) *Publisher {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Publisher{kv: kv, prefix: prefix, now: time.Now}
}

// Publish 用本次快照替换路由器下的peers子树，最后写summary。
// 不在快照中的邻居键会被删除
func (p *Publisher) Publish(ctx context.Context, router string, filter bgp.FilterPredicate, peers []bgp.Peer) error {
	router = strings.TrimSpace(router)
	if router == "" {
		return errdefs.MissingInput("router")
	}
	opts := (&consulapi.WriteOptions{}).WithContext(ctx)

	tree := p.PeersPrefix(router)
	if _, err := p.kv.DeleteTree(tree, opts); err != nil {
		ylog.Errorf("Publisher", "delete %s: %v", tree, err)
		return fmt.Errorf("delete %s: %w", tree, err)
	}

	for _, peer := range peers {
		key := p.PeerKey(router, peer.Group, peer.Address)
		value, err := json.Marshal(peer)
		if err != nil {
			return fmt.Errorf("encode peer %s: %w", peer.Address, err)
		}
		if _, err := p.kv.Put(&consulapi.KVPair{Key: key, Value: value}, opts); err != nil {
			ylog.Errorf("Publisher", "put %s: %v", key, err)
			return fmt.Errorf("put %s: %w", key, err)
		}
	}

	s := bgp.Summarize(peers)
	summary := Summary{
		Router:         router,
		Filter:         string(filter),
		Total:          s.Total,
		Established:    s.Established,
		NotEstablished: s.NotEstablished,
		ByState:        s.ByState,
		CollectedAt:    p.now().UTC(),
	}
	value, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	key := p.SummaryKey(router)
	if _, err := p.kv.Put(&consulapi.KVPair{Key: key, Value: value}, opts); err != nil {
		ylog.Errorf("Publisher", "put %s: %v", key, err)
		return fmt.Errorf("put %s: %w", key, err)
	}

	ylog.Infof("Publisher", "published %d peers of %s under %s", len(peers), router, path.Join(p.prefix, router))
	return nil
}

func (p *Publisher) SummaryKey(router string) string {
	return path.Join(p.prefix, router, "summary")
}

// PeersPrefix 以/结尾，DeleteTree不会误删同名前缀的其他键
func (p *Publisher) PeersPrefix(router string) string {
	return path.Join(p.prefix, router, "peers") + "/"
}

// PeerKey 同一地址可以出现在不同的组中，键按组区分。
// 地址不带端口，IPv6的冒号在Consul键中合法
func (p *Publisher) PeerKey(router, group, address string) string {
	bare := bgp.BareAddress(address)
	if bare == "" {
		bare = "unknown"
	}
	group = strings.TrimSpace(group)
	if group == "" {
		group = "ungrouped"
	}
	return path.Join(p.prefix, router, "peers", url.PathEscape(group), bare)
}
