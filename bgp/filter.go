package bgp

import (
	"sort"
	"strings"

	"github.com/charlesren/bgp_peer_manager/errdefs"
)

type FilterPredicate string

const (
	FilterAll            FilterPredicate = "all"
	FilterEstablished    FilterPredicate = "established"
	FilterNotEstablished FilterPredicate = "not_established"
)

// Filters 所有合法的过滤条件
var Filters = []FilterPredicate{FilterAll, FilterEstablished, FilterNotEstablished}

// ParseFilter 只接受 all / established / not_established
func ParseFilter(s string) (FilterPredicate, error) {
	f := FilterPredicate(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return "", errdefs.MissingInput("filter")
	}
	if !f.Valid() {
		return "", errdefs.InvalidInput("filter", "must be one of all, established, not_established").
			AddDetail("value", s)
	}
	return f, nil
}

func (f FilterPredicate) Valid() bool {
	switch f {
	case FilterAll, FilterEstablished, FilterNotEstablished:
		return true
	default:
		return false
	}
}

// Match 未知条件不匹配任何邻居
func (f FilterPredicate) Match(p Peer) bool {
	switch f {
	case FilterAll:
		return true
	case FilterEstablished:
		return p.IsEstablished()
	case FilterNotEstablished:
		return !p.IsEstablished()
	default:
		return false
	}
}

// Label 展示用名称
func (f FilterPredicate) Label() string {
	switch f {
	case FilterAll:
		return "All"
	case FilterEstablished:
		return "Established"
	case FilterNotEstablished:
		return "Not established"
	default:
		return string(f)
	}
}

// Select 保持输入顺序，不修改入参
func Select(peers []Peer, f FilterPredicate) []Peer {
	out := make([]Peer, 0, len(peers))
	for _, p := range peers {
		if f.Match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Partition 按是否established拆分，两部分不相交且合起来等于输入
func Partition(peers []Peer) (established, other []Peer) {
	return Select(peers, FilterEstablished), Select(peers, FilterNotEstablished)
}

type StateCount struct {
	State string `json:"state" yaml:"state"`
	Count int    `json:"count" yaml:"count"`
}

type Summary struct {
	Total          int          `json:"total" yaml:"total"`
	Established    int          `json:"established" yaml:"established"`
	NotEstablished int          `json:"not_established" yaml:"not_established"`
	ByState        []StateCount `json:"by_state" yaml:"by_state"`
}

// Summarize 统计各状态数量，ByState按数量降序、同数量按名称排序
func Summarize(peers []Peer) Summary {
	counts := make(map[string]int)
	s := Summary{Total: len(peers)}
	for _, p := range peers {
		if p.IsEstablished() {
			s.Established++
		} else {
			s.NotEstablished++
		}
		counts[p.State]++
	}

	for state, n := range counts {
		s.ByState = append(s.ByState, StateCount{State: state, Count: n})
	}
	sort.Slice(s.ByState, func(i, j int) bool {
		if s.ByState[i].Count != s.ByState[j].Count {
			return s.ByState[i].Count > s.ByState[j].Count
		}
		return s.ByState[i].State < s.ByState[j].State
	})
	return s
}
