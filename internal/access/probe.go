package access

import (
	"context"
	"fmt"
	"net"
	"time"

	"vmforge/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// SSHProbe performs one TCP connect plus SSH handshake attempt per Probe
// call. A refused or unreachable TCP connection means "not ready yet".
// Once the TCP connection is up, any handshake outcome counts as ready,
// including an authentication rejection: the service answered, even if the
// credential has not been proven. A broken credential is therefore not
// detected here.
type SSHProbe struct {
	Port        int
	DialTimeout time.Duration
}

// NewSSHProbe creates a probe for the given shell port (22 when zero).
func NewSSHProbe(port int) *SSHProbe {
	if port == 0 {
		port = 22
	}
	return &SSHProbe{Port: port, DialTimeout: 5 * time.Second}
}

// Probe implements Prober.
func (p *SSHProbe) Probe(ctx context.Context, address, username, password string) bool {
	target := net.JoinHostPort(address, fmt.Sprintf("%d", p.Port))

	dialer := net.Dialer{Timeout: p.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		logging.Logger().Debug("shell port not reachable yet",
			zap.String("target", target),
			zap.Error(err))
		return false
	}
	defer conn.Close()

	config := &ssh.ClientConfig{
		User:            username,
		Auth:            []ssh.AuthMethod{ssh.Password(password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         p.DialTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, target, config)
	if err != nil {
		// The TCP connection was accepted; the service is up.
		logging.Logger().Debug("handshake answered with error, treating service as ready",
			zap.String("target", target),
			zap.Error(err))
		return true
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	_ = client.Close()
	return true
}
