package connection

import "time"

// ProtocolCapability 描述驱动能做什么，会话在调用前据此拒绝不支持的操作
type ProtocolCapability struct {
	Protocol        Protocol
	PlatformSupport []Platform

	// 读操作支持的输出格式
	ReadFormats []Format
	// 可暂存的配置格式
	ChangeFormats []Format

	SupportsStaging  bool
	SupportsValidate bool

	DefaultPort int
	Timeout     time.Duration
}

func (c ProtocolCapability) SupportsReadFormat(f Format) bool {
	return containsFormat(c.ReadFormats, f)
}

func (c ProtocolCapability) SupportsChangeFormat(f Format) bool {
	return c.SupportsStaging && containsFormat(c.ChangeFormats, f)
}

func (c ProtocolCapability) SupportsPlatform(p Platform) bool {
	for _, sp := range c.PlatformSupport {
		if sp == p {
			return true
		}
	}
	return false
}

func containsFormat(formats []Format, f Format) bool {
	for _, ff := range formats {
		if ff == f {
			return true
		}
	}
	return false
}

var NetconfCapability = ProtocolCapability{
	Protocol:         ProtocolNetconf,
	PlatformSupport:  []Platform{PlatformJuniperJunos},
	ReadFormats:      []Format{FormatJSON, FormatXML},
	ChangeFormats:    []Format{FormatSet, FormatText, FormatXML},
	SupportsStaging:  true,
	SupportsValidate: true,
	DefaultPort:      830,
	Timeout:          60 * time.Second,
}

var ScrapliCapability = ProtocolCapability{
	Protocol:         ProtocolScrapli,
	PlatformSupport:  []Platform{PlatformJuniperJunos},
	ReadFormats:      []Format{FormatJSON, FormatXML, FormatText},
	ChangeFormats:    []Format{FormatSet},
	SupportsStaging:  true,
	SupportsValidate: true,
	DefaultPort:      22,
	Timeout:          60 * time.Second,
}

var SSHCapability = ProtocolCapability{
	Protocol:        ProtocolSSH,
	PlatformSupport: []Platform{PlatformJuniperJunos},
	ReadFormats:     []Format{FormatJSON, FormatXML, FormatText},
	DefaultPort:     22,
	Timeout:         30 * time.Second,
}

// CapabilityFor 返回协议的静态能力描述
func CapabilityFor(p Protocol) (ProtocolCapability, bool) {
	switch p {
	case ProtocolNetconf:
		return NetconfCapability, true
	case ProtocolScrapli:
		return ScrapliCapability, true
	case ProtocolSSH:
		return SSHCapability, true
	default:
		return ProtocolCapability{}, false
	}
}
