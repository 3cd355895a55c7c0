// Package storage creates per-machine disk volumes. When the shared base
// image is present new volumes are thin copy-on-write overlays on top of
// it; without a base image the provisioner degrades to blank volumes and
// says so in the log.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"vmforge/internal/hostcmd"
	"vmforge/internal/logging"

	"go.uber.org/zap"
)

const volumeExt = ".qcow2"

// Provisioner creates machine disks under ImageRoot via qemu-img.
type Provisioner struct {
	runner    hostcmd.Runner
	imageRoot string
	baseImage string
}

// NewProvisioner creates a storage provisioner. baseImage may point at a
// file that does not exist; the provisioner checks per call.
func NewProvisioner(runner hostcmd.Runner, imageRoot, baseImage string) *Provisioner {
	return &Provisioner{runner: runner, imageRoot: imageRoot, baseImage: baseImage}
}

// VolumePath returns the deterministic path a machine's disk lives at.
func (p *Provisioner) VolumePath(machineName string) string {
	return filepath.Join(p.imageRoot, machineName+volumeExt)
}

// Provision creates the disk for a machine and returns its path. The
// volume is created exactly once at provisioning time and not touched
// again by this layer.
func (p *Provisioner) Provision(ctx context.Context, machineName string, sizeGB int) (string, error) {
	target := p.VolumePath(machineName)
	size := fmt.Sprintf("%dG", sizeGB)

	var args []string
	if p.baseImageExists() {
		args = []string{
			"create", "-f", "qcow2",
			"-b", p.baseImage, "-F", "qcow2",
			target, size,
		}
		logging.Logger().Info("creating copy-on-write volume",
			zap.String("machine", machineName),
			zap.String("path", target),
			zap.String("backing", p.baseImage),
			zap.String("size", size))
	} else {
		args = []string{"create", "-f", "qcow2", target, size}
		logging.Logger().Warn("no base image present, creating blank volume; guest will boot without an installed OS",
			zap.String("machine", machineName),
			zap.String("path", target),
			zap.String("missing_base", p.baseImage),
			zap.String("size", size))
	}

	stdout, stderr, err := p.runner.Run(ctx, "qemu-img", args...)
	if err != nil {
		return "", fmt.Errorf("failed to create volume %s: %w", target, err)
	}

	logging.Logger().Debug("volume created",
		zap.String("path", target),
		zap.String("stdout", logging.Truncate(stdout)),
		zap.String("stderr", logging.Truncate(stderr)))

	return target, nil
}

func (p *Provisioner) baseImageExists() bool {
	if p.baseImage == "" {
		return false
	}
	info, err := os.Stat(p.baseImage)
	return err == nil && !info.IsDir()
}
