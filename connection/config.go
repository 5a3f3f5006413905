package connection

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/charlesren/bgp_peer_manager/errdefs"
)

// SessionConfig 单台路由器的会话配置
type SessionConfig struct {
	Host     string `json:"host" yaml:"host" mapstructure:"host"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
	Username string `json:"username" yaml:"username" mapstructure:"username"`
	Password string `json:"-" yaml:"-" mapstructure:"password"`

	Protocol Protocol `json:"protocol" yaml:"protocol" mapstructure:"protocol"`
	Platform Platform `json:"platform" yaml:"platform" mapstructure:"platform"`

	// 超时配置
	ConnectTimeout   time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`       // 建立连接和认证
	OperationTimeout time.Duration `json:"operation_timeout" yaml:"operation_timeout" mapstructure:"operation_timeout"` // 单次RPC/命令
	CommitTimeout    time.Duration `json:"commit_timeout" yaml:"commit_timeout" mapstructure:"commit_timeout"`          // 提交可能较慢

	// 主机密钥校验
	StrictHostKey  bool   `json:"strict_host_key" yaml:"strict_host_key" mapstructure:"strict_host_key"`
	KnownHostsFile string `json:"known_hosts_file" yaml:"known_hosts_file" mapstructure:"known_hosts_file"`

	Labels map[string]string `json:"labels,omitempty" yaml:"labels,omitempty" mapstructure:"labels"`
}

// 配置构建器
type ConfigBuilder struct {
	config *SessionConfig
}

// NewConfigBuilder 创建配置构建器
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: &SessionConfig{
			Protocol:         ProtocolNetconf,
			Platform:         PlatformJuniperJunos,
			ConnectTimeout:   30 * time.Second,
			OperationTimeout: 60 * time.Second,
			CommitTimeout:    120 * time.Second,
			Labels:           make(map[string]string),
		},
	}
}

// WithBasicAuth 设置基础认证
func (b *ConfigBuilder) WithBasicAuth(host, username, password string) *ConfigBuilder {
	b.config.Host = strings.TrimSpace(host)
	b.config.Username = username
	b.config.Password = password
	return b
}

// WithPort 端口必须由操作员给出，不按协议补默认值
func (b *ConfigBuilder) WithPort(port int) *ConfigBuilder {
	b.config.Port = port
	return b
}

func (b *ConfigBuilder) WithProtocol(protocol Protocol) *ConfigBuilder {
	b.config.Protocol = protocol
	return b
}

func (b *ConfigBuilder) WithPlatform(platform Platform) *ConfigBuilder {
	b.config.Platform = platform
	return b
}

// WithTimeouts 设置超时配置，非正值保持默认
func (b *ConfigBuilder) WithTimeouts(connect, operation, commit time.Duration) *ConfigBuilder {
	if connect > 0 {
		b.config.ConnectTimeout = connect
	}
	if operation > 0 {
		b.config.OperationTimeout = operation
	}
	if commit > 0 {
		b.config.CommitTimeout = commit
	}
	return b
}

func (b *ConfigBuilder) WithHostKeyCheck(strict bool, knownHostsFile string) *ConfigBuilder {
	b.config.StrictHostKey = strict
	b.config.KnownHostsFile = knownHostsFile
	return b
}

// WithLabels 设置标签
func (b *ConfigBuilder) WithLabels(labels map[string]string) *ConfigBuilder {
	for k, v := range labels {
		b.config.Labels[k] = v
	}
	return b
}

// Build 构建配置
func (b *ConfigBuilder) Build() (*SessionConfig, error) {
	cfg := b.config.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPort 协议常用端口，只用于错误提示
func DefaultPort(p Protocol) int {
	if c, ok := CapabilityFor(p); ok {
		return c.DefaultPort
	}
	return 22
}

// Validate 验证配置，所有错误都是PRECONDITION，发生在任何设备连接之前
func (c *SessionConfig) Validate() error {
	if c.Host == "" {
		return errdefs.MissingInput("host")
	}
	if strings.ContainsAny(c.Host, " \t\r\n") {
		return errdefs.InvalidInput("host", "must not contain whitespace")
	}
	if c.Username == "" {
		return errdefs.MissingInput("username")
	}
	if c.Password == "" {
		return errdefs.MissingInput("password")
	}
	if c.Port == 0 {
		return errdefs.MissingInput("port").AddDetail("usual_port", DefaultPort(c.Protocol))
	}
	if c.Port < 0 || c.Port > 65535 {
		return errdefs.InvalidInput("port", "must be between 1 and 65535")
	}

	capability, ok := CapabilityFor(c.Protocol)
	if !ok {
		return errdefs.InvalidInput("protocol", fmt.Sprintf("unsupported protocol %q", c.Protocol))
	}
	if !capability.SupportsPlatform(c.Platform) {
		return errdefs.InvalidInput("platform", fmt.Sprintf("%q is not supported by %s", c.Platform, c.Protocol))
	}

	if c.ConnectTimeout <= 0 {
		return errdefs.InvalidInput("connect_timeout", "must be positive")
	}
	if c.OperationTimeout <= 0 {
		return errdefs.InvalidInput("operation_timeout", "must be positive")
	}
	if c.CommitTimeout <= 0 {
		return errdefs.InvalidInput("commit_timeout", "must be positive")
	}
	if c.StrictHostKey && c.KnownHostsFile == "" {
		return errdefs.MissingInput("known_hosts_file")
	}
	return nil
}

// ParsePort 解析操作员输入的端口，空字符串返回缺失错误
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errdefs.MissingInput("port")
	}
	port, err := strconv.Atoi(s)
	if err != nil {
		return 0, errdefs.InvalidInput("port", fmt.Sprintf("%q is not a number", s))
	}
	if port <= 0 || port > 65535 {
		return 0, errdefs.InvalidInput("port", "must be between 1 and 65535")
	}
	return port, nil
}

// Address host:port，IPv6地址自动加括号
func (c *SessionConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// GetConnectionString 用于日志，不包含密码
func (c *SessionConfig) GetConnectionString() string {
	return fmt.Sprintf("%s://%s@%s", c.Protocol, c.Username, c.Address())
}

// Clone 深拷贝
func (c *SessionConfig) Clone() *SessionConfig {
	out := *c
	out.Labels = make(map[string]string, len(c.Labels))
	for k, v := range c.Labels {
		out.Labels[k] = v
	}
	return &out
}
