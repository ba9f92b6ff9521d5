// pkg/remote/dial.go

package remote

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DialConfig holds everything needed to establish the SSH transport.
type DialConfig struct {
	Target         string // host:port
	User           string
	KeyPath        string
	Passphrase     string
	KnownHostsPath string
	StrictHostKey  bool
	DialTimeout    time.Duration
}

// dialSSH establishes an SSH client connection. Key auth is preferred, the
// running agent is consulted when available.
func dialSSH(cfg DialConfig) (*ssh.Client, error) {
	var auths []ssh.AuthMethod

	if cfg.KeyPath != "" {
		signer, err := loadSigner(cfg.KeyPath, cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("load key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			ag := agent.NewClient(conn)
			auths = append(auths, ssh.PublicKeysCallback(ag.Signers))
		}
	}

	var hostKeyCB ssh.HostKeyCallback
	if cfg.StrictHostKey {
		// Fail closed when no known_hosts file exists.
		if _, err := os.Stat(cfg.KnownHostsPath); err == nil {
			cb, err := knownhosts.New(cfg.KnownHostsPath)
			if err != nil {
				return nil, fmt.Errorf("known_hosts: %w", err)
			}
			hostKeyCB = cb
		} else {
			return nil, fmt.Errorf("known_hosts file not found at %s and strict host key checking is enabled", cfg.KnownHostsPath)
		}
	} else {
		hostKeyCB = ssh.InsecureIgnoreHostKey()
	}

	clientCfg := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auths,
		HostKeyCallback: hostKeyCB,
		Timeout:         cfg.DialTimeout,
	}

	d := net.Dialer{Timeout: cfg.DialTimeout}
	conn, err := d.Dial("tcp", cfg.Target)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, cfg.Target, clientCfg)
	if err != nil {
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// loadSigner loads a private key with optional passphrase.
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(b, []byte(passphrase))
	}
	s, err := ssh.ParsePrivateKey(b)
	if err == nil {
		return s, nil
	}
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) {
		return nil, fmt.Errorf("private key %s is encrypted; supply a passphrase", path)
	}
	return nil, err
}
