package bgp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeStateIsIdempotent(t *testing.T) {
	for _, s := range []string{"Established", " Idle ", "OpenConfirm", "active", ""} {
		once := NormalizeState(s)
		assert.Equal(t, once, NormalizeState(once))
	}
	assert.Equal(t, "openconfirm", NormalizeState("OpenConfirm"))
}

func TestBareAddress(t *testing.T) {
	tests := map[string]string{
		"203.0.113.1+179":  "203.0.113.1",
		"203.0.113.1":      "203.0.113.1",
		"2001:db8::1+179":  "2001:db8::1",
		" 192.0.2.1+6000 ": "192.0.2.1",
		"":                 "",
	}
	for in, want := range tests {
		assert.Equal(t, want, BareAddress(in), in)
	}
	assert.Equal(t, "203.0.113.1", NewPeer("203.0.113.1+179", "", "", "").BareAddress())
}

func TestNewPeer(t *testing.T) {
	p := NewPeer(" 192.0.2.1 ", "65000", "Established", " core ")
	assert.Equal(t, Peer{Address: "192.0.2.1", ASN: "65000", State: "established", Group: "core"}, p)
	assert.True(t, p.IsEstablished())
}
