package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/charlesren/bgp_peer_manager/connection"
	"github.com/charlesren/bgp_peer_manager/errdefs"
	"github.com/charlesren/bgp_peer_manager/publish"
	"github.com/charlesren/ylog"
	"github.com/spf13/viper"
)

// Config bgpctl的全部配置
type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Timeouts TimeoutConfig  `mapstructure:"timeouts"`
	Connect  ConnectConfig  `mapstructure:"connect"`
	Log      LogConfig      `mapstructure:"log"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Consul   publish.Config `mapstructure:"consul"`
}

// DeviceConfig 路由器连接信息，密码可来自环境变量
type DeviceConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Protocol       string `mapstructure:"protocol"`
	Platform       string `mapstructure:"platform"`
	StrictHostKey  bool   `mapstructure:"strict_host_key"`
	KnownHostsFile string `mapstructure:"known_hosts_file"`
}

type TimeoutConfig struct {
	Connect   time.Duration `mapstructure:"connect"`
	Operation time.Duration `mapstructure:"operation"`
	Commit    time.Duration `mapstructure:"commit"`
}

type ConnectConfig struct {
	Retries int `mapstructure:"retries"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SetDefaults 注册默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("device.protocol", string(connection.ProtocolNetconf))
	v.SetDefault("device.platform", string(connection.PlatformJuniperJunos))
	v.SetDefault("timeouts.connect", 30*time.Second)
	v.SetDefault("timeouts.operation", 60*time.Second)
	v.SetDefault("timeouts.commit", 120*time.Second)
	v.SetDefault("connect.retries", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "../logs/bgpctl.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 3)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.path", "../data/bgpctl_audit.db")
	v.SetDefault("consul.prefix", publish.DefaultPrefix)
}

// Load 从viper解码配置
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Device.Host = strings.TrimSpace(cfg.Device.Host)
	if _, err := cfg.Log.YLogLevel(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SessionConfig 用设备配置构造会话配置并校验
func (c *Config) SessionConfig() (*connection.SessionConfig, error) {
	protocol, ok := connection.ParseProtocol(strings.ToLower(strings.TrimSpace(c.Device.Protocol)))
	if !ok {
		return nil, errdefs.InvalidInput("device.protocol", "must be one of netconf, scrapli, ssh").
			AddDetail("value", c.Device.Protocol)
	}
	b := connection.NewConfigBuilder().
		WithBasicAuth(c.Device.Host, c.Device.Username, c.Device.Password).
		WithProtocol(protocol).
		WithPlatform(connection.Platform(c.Device.Platform)).
		WithPort(c.Device.Port).
		WithTimeouts(c.Timeouts.Connect, c.Timeouts.Operation, c.Timeouts.Commit).
		WithHostKeyCheck(c.Device.StrictHostKey, c.Device.KnownHostsFile)
	return b.Build()
}

// YLogLevel 把级别名称转成ylog级别
func (l LogConfig) YLogLevel() (int, error) {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug":
		return ylog.DebugLevel, nil
	case "info", "":
		return ylog.InfoLevel, nil
	case "warn", "warning":
		return ylog.WarnLevel, nil
	case "error":
		return ylog.ErrorLevel, nil
	default:
		return 0, errdefs.InvalidInput("log.level", "must be one of debug, info, warn, error").
			AddDetail("value", l.Level)
	}
}
