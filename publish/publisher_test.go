package publish

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charlesren/bgp_peer_manager/bgp"
	"github.com/charlesren/bgp_peer_manager/errdefs"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeKV 按写入顺序保存键，DeleteTree按前缀删除
type fakeKV struct {
	puts    []*consulapi.KVPair
	deletes []string
	failOn  string
}

func (f *fakeKV) Put(p *consulapi.KVPair, q *consulapi.WriteOptions) (*consulapi.WriteMeta, error) {
	if p.Key == f.failOn {
		return nil, errors.New("permission denied")
	}
	for i, old := range f.puts {
		if old.Key == p.Key {
			f.puts = append(f.puts[:i], f.puts[i+1:]...)
			break
		}
	}
	f.puts = append(f.puts, p)
	return &consulapi.WriteMeta{}, nil
}

func (f *fakeKV) DeleteTree(prefix string, w *consulapi.WriteOptions) (*consulapi.WriteMeta, error) {
	if prefix == f.failOn {
		return nil, errors.New("permission denied")
	}
	f.deletes = append(f.deletes, prefix)
	kept := f.puts[:0]
	for _, p := range f.puts {
		if !strings.HasPrefix(p.Key, prefix) {
			kept = append(kept, p)
		}
	}
	f.puts = kept
	return &consulapi.WriteMeta{}, nil
}

func (f *fakeKV) keys() []string {
	var keys []string
	for _, p := range f.puts {
		keys = append(keys, p.Key)
	}
	return keys
}

var testPeers = []bgp.Peer{
	{Address: "203.0.113.1+179", ASN: "65001", State: "established", Group: "transit"},
	{Address: "2001:db8::2", ASN: "65002", State: "idle", Group: "ix"},
}

func TestPublish(t *testing.T) {
	kv := &fakeKV{}
	p := NewPublisher(kv, "/netops/bgp/")
	p.now = func() time.Time { return time.Date(2026, 10, 15, 8, 0, 0, 0, time.UTC) }

	require.NoError(t, p.Publish(context.Background(), "mx1", bgp.FilterAll, testPeers))
	assert.Equal(t, []string{
		"netops/bgp/mx1/peers/transit/203.0.113.1",
		"netops/bgp/mx1/peers/ix/2001:db8::2",
		"netops/bgp/mx1/summary",
	}, kv.keys())
	assert.Equal(t, []string{"netops/bgp/mx1/peers/"}, kv.deletes)

	var peer bgp.Peer
	require.NoError(t, json.Unmarshal(kv.puts[0].Value, &peer))
	assert.Equal(t, testPeers[0], peer)

	var summary Summary
	require.NoError(t, json.Unmarshal(kv.puts[2].Value, &summary))
	assert.Equal(t, "mx1", summary.Router)
	assert.Equal(t, "all", summary.Filter)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Established)
	assert.Equal(t, 1, summary.NotEstablished)
	assert.True(t, p.now().Equal(summary.CollectedAt))
}

func TestPublishEmptySnapshotStillWritesSummary(t *testing.T) {
	kv := &fakeKV{}
	require.NoError(t, NewPublisher(kv, "").Publish(context.Background(), "mx1", bgp.FilterEstablished, nil))
	assert.Equal(t, []string{"bgp-peer-manager/mx1/summary"}, kv.keys())
}

func TestPublishErrors(t *testing.T) {
	kv := &fakeKV{failOn: "bgp-peer-manager/mx1/peers/transit/203.0.113.1"}
	err := NewPublisher(kv, "").Publish(context.Background(), "mx1", bgp.FilterAll, testPeers)
	assert.ErrorContains(t, err, "permission denied")
	assert.Empty(t, kv.puts, "summary is not written after a failed peer")

	kv = &fakeKV{failOn: "bgp-peer-manager/mx1/peers/"}
	err = NewPublisher(kv, "").Publish(context.Background(), "mx1", bgp.FilterAll, testPeers)
	assert.ErrorContains(t, err, "permission denied")
	assert.Empty(t, kv.puts)

	err = NewPublisher(&fakeKV{}, "").Publish(context.Background(), " ", bgp.FilterAll, testPeers)
	assert.True(t, errdefs.IsCode(err, errdefs.ErrCodePrecondition))
}

func TestNewConsulPublisher(t *testing.T) {
	p, err := NewConsulPublisher(Config{Address: "127.0.0.1:8500", Prefix: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x/r1/summary", p.SummaryKey("r1"))
	assert.Equal(t, "x/r1/peers/ungrouped/unknown", p.PeerKey("r1", "", ""))
	assert.Equal(t, "x/r1/peers/", p.PeersPrefix("r1"))
}

func TestPublishRemovesStalePeers(t *testing.T) {
	kv := &fakeKV{}
	p := NewPublisher(kv, "")
	// 不属于该路由器peers子树的键保持不变
	_, err := kv.Put(&consulapi.KVPair{Key: "bgp-peer-manager/mx1/peers-archive"}, nil)
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), "mx1", bgp.FilterAll, testPeers))
	require.NoError(t, p.Publish(context.Background(), "mx1", bgp.FilterEstablished, testPeers[:1]))

	assert.ElementsMatch(t, []string{
		"bgp-peer-manager/mx1/peers-archive",
		"bgp-peer-manager/mx1/peers/transit/203.0.113.1",
		"bgp-peer-manager/mx1/summary",
	}, kv.keys())
}

func TestPeerKeySeparatesGroups(t *testing.T) {
	p := NewPublisher(&fakeKV{}, "")
	a := p.PeerKey("mx1", "transit", "203.0.113.1")
	b := p.PeerKey("mx1", "ix", "203.0.113.1+179")
	assert.NotEqual(t, a, b)
	assert.Equal(t, "bgp-peer-manager/mx1/peers/ix/203.0.113.1", b)
	assert.Equal(t, "bgp-peer-manager/mx1/peers/a%2Fb/203.0.113.1", p.PeerKey("mx1", "a/b", "203.0.113.1"))
}
