package mutation

import (
	"fmt"
	"net/netip"
	"regexp"

	"github.com/charlesren/bgp_peer_manager/bgp"
	"github.com/charlesren/bgp_peer_manager/errdefs"
)

// Junos组名，不允许空白和引号，防止拼出额外的配置语句
var groupNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:/-]*$`)

// DeactivateDirective 生成停用一个邻居的set格式配置语句，地址中的+端口会被去掉
func DeactivateDirective(group, address string) (string, error) {
	if group == "" {
		return "", errdefs.MissingInput("target_group")
	}
	if !groupNamePattern.MatchString(group) {
		return "", errdefs.InvalidInput("target_group", "not a valid BGP group name").AddDetail("value", group)
	}

	bare := bgp.BareAddress(address)
	if bare == "" {
		return "", errdefs.MissingInput("target_address")
	}
	addr, err := netip.ParseAddr(bare)
	if err != nil || addr.Zone() != "" {
		return "", errdefs.InvalidInput("target_address", "not an IP address").AddDetail("value", address)
	}

	return fmt.Sprintf("deactivate protocols bgp group %s neighbor %s", group, addr.String()), nil
}
