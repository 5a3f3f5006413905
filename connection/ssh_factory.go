package connection

import (
	"context"
	"fmt"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type SSHFactory struct{}

func (f *SSHFactory) Create(ctx context.Context, config SessionConfig) (ProtocolDriver, error) {
	hostKeyCallback, err := sshHostKeyCallback(config)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User: config.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(config.Password),
			// Junos默认使用keyboard-interactive
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = config.Password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.ConnectTimeout,
	}

	return openWithContext(ctx, config.ConnectTimeout, func() (ProtocolDriver, error) {
		client, err := ssh.Dial("tcp", config.Address(), clientConfig)
		if err != nil {
			return nil, fmt.Errorf("SSH dial %s failed: %w", config.Address(), err)
		}
		return NewSSHDriver(config.Host, client), nil
	})
}

func sshHostKeyCallback(config SessionConfig) (ssh.HostKeyCallback, error) {
	if !config.StrictHostKey {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(config.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", config.KnownHostsFile, err)
	}
	return cb, nil
}
