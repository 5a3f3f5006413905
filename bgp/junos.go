package bgp

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"

	"github.com/charlesren/bgp_peer_manager/connection"
)

var (
	ErrNoBGPInformation = errors.New("reply has no bgp-information")
	ErrMalformedReply   = errors.New("malformed neighbor reply")
)

// DecodeNeighbors 解析get-bgp-neighbor-information的返回。
// 每个原始bgp-peer条目对应一个Peer，字段缺失或格式不对时取空串，不影响其他条目。
func DecodeNeighbors(format connection.Format, data []byte) ([]Peer, error) {
	switch format {
	case connection.FormatJSON, "":
		return decodeJSONNeighbors(data)
	case connection.FormatXML:
		return decodeXMLNeighbors(data)
	default:
		return nil, fmt.Errorf("%w: %s", connection.ErrUnsupportedFormat, format)
	}
}

// Junos JSON中每个叶子都是 [{"data": "..."}]
type jsonNeighborReply struct {
	Information json.RawMessage `json:"bgp-information"`
}

type jsonInformation struct {
	Peers []json.RawMessage `json:"bgp-peer"`
}

func decodeJSONNeighbors(data []byte) ([]Peer, error) {
	var reply jsonNeighborReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if len(reply.Information) == 0 || string(reply.Information) == "null" {
		return nil, ErrNoBGPInformation
	}

	infos, err := jsonList[jsonInformation](reply.Information)
	if err != nil {
		return nil, fmt.Errorf("%w: bgp-information: %v", ErrMalformedReply, err)
	}

	peers := []Peer{}
	for _, info := range infos {
		for _, raw := range info.Peers {
			peers = append(peers, jsonPeer(raw))
		}
	}
	return peers, nil
}

// jsonList 兼容单个对象和对象数组两种写法
func jsonList[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var one T
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, err
		}
		return []T{one}, nil
	}
	var many []T
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	return many, nil
}

func jsonPeer(raw json.RawMessage) Peer {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Peer{}
	}
	return NewPeer(
		jsonLeaf(fields["peer-address"]),
		jsonLeaf(fields["peer-as"]),
		jsonLeaf(fields["peer-state"]),
		jsonLeaf(fields["peer-group"]),
	)
}

func jsonLeaf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var leaves []struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &leaves); err == nil {
		if len(leaves) > 0 {
			return leaves[0].Data
		}
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	return ""
}

type xmlInformation struct {
	Peers []xmlPeer `xml:"bgp-peer"`
}

type xmlPeer struct {
	Address string `xml:"peer-address"`
	ASN     string `xml:"peer-as"`
	State   string `xml:"peer-state"`
	Group   string `xml:"peer-group"`
}

// XML回复中可能有多个bgp-information（逻辑系统），也可能仍带rpc-reply外壳
func decodeXMLNeighbors(data []byte) ([]Peer, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	peers := []Peer{}
	found := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "bgp-information" {
			continue
		}
		found = true

		var info xmlInformation
		if err := dec.DecodeElement(&info, &start); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedReply, err)
		}
		for _, p := range info.Peers {
			peers = append(peers, NewPeer(p.Address, p.ASN, p.State, p.Group))
		}
	}
	if !found {
		return nil, ErrNoBGPInformation
	}
	return peers, nil
}
