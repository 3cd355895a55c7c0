// Package remote gives post-provision access to a machine's shell: run a
// command, fetch a file. Authentication uses the login credential the
// bootstrap payload installed, so it works immediately after first boot
// without key distribution.
package remote

import (
	"bytes"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"vmforge/internal/logging"
	"vmforge/internal/machine"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Shell is an authenticated connection to a provisioned machine.
type Shell struct {
	client     *ssh.Client
	sftpClient *sftp.Client
	address    string
}

// Dial connects to the machine described by access on the given port.
func Dial(access *machine.Access, port int, timeout time.Duration) (*Shell, error) {
	if port == 0 {
		port = 22
	}
	config := &ssh.ClientConfig{
		User:            access.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(access.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
	}

	target := net.JoinHostPort(access.Address, fmt.Sprintf("%d", port))
	client, err := ssh.Dial("tcp", target, config)
	if err != nil {
		return nil, fmt.Errorf("failed to dial shell at %s: %w", target, err)
	}

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to open file channel: %w", err)
	}

	logging.Logger().Info("shell connection established",
		zap.String("address", access.Address),
		zap.String("user", access.Username))

	return &Shell{client: client, sftpClient: sftpClient, address: access.Address}, nil
}

// Run executes a command on the machine and returns its stdout.
func (s *Shell) Run(command string) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Run(command); err != nil {
		return stdout.String(), fmt.Errorf("command %q failed: %w (stderr: %s)",
			logging.Truncate(command), err, logging.Truncate(stderr.String()))
	}

	logging.Logger().Debug("remote command completed",
		zap.String("address", s.address),
		zap.String("command", logging.Truncate(command)),
		zap.String("stdout", logging.Truncate(stdout.String())))

	return stdout.String(), nil
}

// Fetch copies a single file from the machine to localPath.
func (s *Shell) Fetch(remotePath, localPath string) error {
	remoteFile, err := s.sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer remoteFile.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create local directory: %w", err)
	}
	localFile, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}
	defer localFile.Close()

	written, err := localFile.ReadFrom(remoteFile)
	if err != nil {
		return fmt.Errorf("failed to copy file content: %w", err)
	}

	logging.Logger().Info("file fetched",
		zap.String("remote_path", remotePath),
		zap.String("local_path", localPath),
		zap.Int64("size_bytes", written))
	return nil
}

// Close shuts down the SFTP and SSH connections.
func (s *Shell) Close() error {
	if s.sftpClient != nil {
		if err := s.sftpClient.Close(); err != nil {
			logging.Logger().Warn("failed to close file channel", zap.Error(err))
		}
	}
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}
