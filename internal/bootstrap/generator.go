// Package bootstrap builds the guest first-boot payload: a generated login
// credential plus cloud-init documents, packaged as a read-only ISO volume
// the machine descriptor attaches alongside the disk.
package bootstrap

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"vmforge/internal/hostcmd"
	"vmforge/internal/logging"

	"go.uber.org/zap"
)

const metaDataTemplate = `instance-id: {{.Hostname}}
local-hostname: {{.Hostname}}
`

const userDataTemplate = `#cloud-config
hostname: {{.Hostname}}
users:
  - name: {{.Username}}
    plain_text_passwd: {{.Password}}
    lock_passwd: false
    sudo: ALL=(ALL) NOPASSWD:ALL
    shell: /bin/bash
ssh_pwauth: true
packages:
  - openssh-server
  - qemu-guest-agent
`

var (
	metaDataTmpl = template.Must(template.New("meta-data").Parse(metaDataTemplate))
	userDataTmpl = template.Must(template.New("user-data").Parse(userDataTemplate))
)

// Config is the generated first-boot identity for one machine.
type Config struct {
	Hostname string
	Username string
	Password string
}

// Generator packages first-boot payloads into seed ISOs under seedRoot.
type Generator struct {
	runner         hostcmd.Runner
	seedRoot       string
	username       string
	passwordLength int
}

// NewGenerator creates a bootstrap generator. username is the login user
// baked into every guest; passwordLength 0 means the default.
func NewGenerator(runner hostcmd.Runner, seedRoot, username string, passwordLength int) *Generator {
	if passwordLength == 0 {
		passwordLength = DefaultPasswordLength
	}
	return &Generator{
		runner:         runner,
		seedRoot:       seedRoot,
		username:       username,
		passwordLength: passwordLength,
	}
}

// Generate builds a fresh payload for machineName and returns the config
// together with the path of the packaged seed ISO.
func (g *Generator) Generate(ctx context.Context, machineName string) (*Config, string, error) {
	password, err := GeneratePassword(g.passwordLength)
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate password: %w", err)
	}

	cfg := &Config{
		Hostname: machineName,
		Username: g.username,
		Password: password,
	}

	workDir := filepath.Join(g.seedRoot, machineName+"-seed")
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return nil, "", fmt.Errorf("failed to create seed directory: %w", err)
	}

	metaPath := filepath.Join(workDir, "meta-data")
	userPath := filepath.Join(workDir, "user-data")
	if err := renderTo(metaPath, metaDataTmpl, cfg); err != nil {
		return nil, "", err
	}
	if err := renderTo(userPath, userDataTmpl, cfg); err != nil {
		return nil, "", err
	}

	isoPath := filepath.Join(g.seedRoot, machineName+"-seed.iso")
	stdout, stderr, err := g.runner.Run(ctx, "genisoimage",
		"-output", isoPath,
		"-volid", "cidata",
		"-joliet", "-rock",
		userPath, metaPath,
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to package bootstrap volume: %w", err)
	}

	logging.Logger().Info("bootstrap payload packaged",
		zap.String("machine", machineName),
		zap.String("iso", isoPath),
		zap.String("user", g.username))
	logging.Logger().Debug("genisoimage output",
		zap.String("stdout", logging.Truncate(stdout)),
		zap.String("stderr", logging.Truncate(stderr)))

	return cfg, isoPath, nil
}

func renderTo(path string, tmpl *template.Template, data any) error {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("failed to render %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
