package connection

type (
	Platform string
	Protocol string
	Format   string
)

const (
	PlatformJuniperJunos Platform = "juniper_junos"

	// ProtocolNetconf NETCONF over SSH（830端口），支持candidate锁定、校验和提交
	ProtocolNetconf Protocol = "netconf"
	// ProtocolScrapli 交互式CLI，通过configuration-exclusive模式暂存配置
	ProtocolScrapli Protocol = "scrapli"
	// ProtocolSSH 仅执行只读命令
	ProtocolSSH Protocol = "ssh"

	FormatJSON Format = "json"
	FormatXML  Format = "xml"
	FormatText Format = "text"
	// FormatSet Junos set风格的配置语句
	FormatSet Format = "set"
)

// ParseProtocol 解析协议名称，未知协议返回false
func ParseProtocol(s string) (Protocol, bool) {
	switch p := Protocol(s); p {
	case ProtocolNetconf, ProtocolScrapli, ProtocolSSH:
		return p, true
	default:
		return "", false
	}
}
