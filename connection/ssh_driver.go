package connection

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/ssh"
)

// sshClient 便于测试替换
type sshClient interface {
	NewSession() (*ssh.Session, error)
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

// SSHDriver 每条命令一个exec通道，只读，不支持暂存配置
type SSHDriver struct {
	host   string
	client sshClient
	run    func(cmd string) ([]byte, error)
	closed atomic.Bool
}

func NewSSHDriver(host string, client *ssh.Client) *SSHDriver {
	d := &SSHDriver{host: host, client: client}
	d.run = d.output
	return d
}

func (d *SSHDriver) ProtocolType() Protocol {
	return ProtocolSSH
}

func (d *SSHDriver) GetCapability() ProtocolCapability {
	return SSHCapability
}

func (d *SSHDriver) Execute(ctx context.Context, req *ProtocolRequest) (*ProtocolResponse, error) {
	if d.closed.Load() {
		return nil, ErrDriverClosed
	}
	cmd, err := cliCommand(req)
	if err != nil {
		return nil, err
	}
	out, err := d.run(cmd)
	if err != nil {
		if _, ok := err.(*ssh.ExitError); ok {
			return nil, fmt.Errorf("%w: %s: %v", ErrRPCFailed, cmd, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTransportLost, err)
	}

	data := out
	if req.Format == FormatXML {
		if data, err = extractReplyPayload(out, FormatXML); err != nil {
			return nil, fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return &ProtocolResponse{Success: true, Format: req.Format, RawData: data}, nil
}

func (d *SSHDriver) output(cmd string) ([]byte, error) {
	session, err := d.client.NewSession()
	if err != nil {
		return nil, err
	}
	defer session.Close()
	return session.Output(cmd)
}

func (d *SSHDriver) StageConfig(ctx context.Context, change *ConfigChange) (*ConfigHandle, error) {
	return nil, ErrStagingUnsupported
}

func (d *SSHDriver) Validate(ctx context.Context, handle *ConfigHandle) (*ValidationResult, error) {
	return nil, ErrStagingUnsupported
}

func (d *SSHDriver) Commit(ctx context.Context, handle *ConfigHandle) error {
	return ErrStagingUnsupported
}

func (d *SSHDriver) Discard(ctx context.Context, handle *ConfigHandle) error {
	return ErrStagingUnsupported
}

// IsAlive 发送keepalive全局请求探测连接
func (d *SSHDriver) IsAlive() bool {
	if d.closed.Load() {
		return false
	}
	_, _, err := d.client.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

func (d *SSHDriver) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.client.Close()
}
