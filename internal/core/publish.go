package core

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	gssh "github.com/aliharslan0/pyrevanced/internal/ssh"
)

// Publisher uploads the patched package to a host over SFTP.
type Publisher struct {
	Host       string
	Port       int
	User       string
	KeyPath    string
	KnownHosts string
	RemoteDir  string
	Retries    int
}

// NewPublisher reads the publish settings from cfg.
func NewPublisher(cfg Config) *Publisher {
	p := cfg.Publish
	return &Publisher{
		Host:       p.Host,
		Port:       p.Port,
		User:       p.User,
		KeyPath:    p.KeyPath,
		KnownHosts: p.KnownHosts,
		RemoteDir:  p.RemoteDir,
		Retries:    cfg.HTTP.Retries,
	}
}

// Enabled reports whether a publish host is configured.
func (p *Publisher) Enabled() bool { return p.Host != "" }

// RemotePath is where localPath ends up on the host.
func (p *Publisher) RemotePath(localPath string) string {
	dir := p.RemoteDir
	if dir == "" {
		dir = "."
	}
	return path.Join(dir, filepath.Base(localPath))
}

// Publish uploads localPath and verifies it by checksum. It returns the
// remote path and the sha256 of the content.
func (p *Publisher) Publish(ctx context.Context, localPath string) (string, string, error) {
	if !p.Enabled() {
		return "", "", fmt.Errorf("%w: no publish host configured", ErrPublish)
	}
	if p.User == "" {
		return "", "", fmt.Errorf("%w: no publish user configured", ErrPublish)
	}
	signer, err := gssh.LoadPrivateKeySigner(p.KeyPath)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrPublish, err)
	}
	kh, err := gssh.LoadKnownHostsCallback(p.KnownHosts)
	if err != nil {
		return "", "", fmt.Errorf("%w: load known hosts: %w", ErrPublish, err)
	}

	client := &gssh.Client{
		Host:       p.Host,
		Port:       p.Port,
		User:       p.User,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    30 * time.Second,
		Retries:    p.Retries,
		Backoff:    500 * time.Millisecond,
	}
	conn, err := gssh.Dial(ctx, client)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrPublish, err)
	}
	defer conn.Close()

	remote := p.RemotePath(localPath)
	start := time.Now()
	sum, err := gssh.PushFile(ctx, conn, localPath, remote)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %w", ErrPublish, remote, err)
	}
	log.Info().Str("addr", client.Addr()).Str("remote", remote).Str("sha256", sum).Dur("elapsed", time.Since(start)).Msg("package published")
	return remote, sum, nil
}
