package core

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	p := NewPublisher(cfg)
	assert.False(t, p.Enabled())
	assert.Equal(t, 22, p.Port)

	cfg.Publish.Host = "files.example.com"
	cfg.Publish.RemoteDir = "/srv/apk"
	p = NewPublisher(cfg)
	assert.True(t, p.Enabled())
	assert.Equal(t, "/srv/apk/revanced.apk", p.RemotePath(filepath.Join("out", "revanced.apk")))

	p.RemoteDir = ""
	assert.Equal(t, "revanced.apk", p.RemotePath("revanced.apk"))
}

func TestPublishRequiresSettings(t *testing.T) {
	ctx := context.Background()

	_, _, err := (&Publisher{}).Publish(ctx, "revanced.apk")
	assert.True(t, errors.Is(err, ErrPublish))

	_, _, err = (&Publisher{Host: "files.example.com"}).Publish(ctx, "revanced.apk")
	assert.True(t, errors.Is(err, ErrPublish))

	dir := t.TempDir()
	p := &Publisher{
		Host:       "files.example.com",
		User:       "deploy",
		KeyPath:    filepath.Join(dir, "missing_key"),
		KnownHosts: filepath.Join(dir, "known_hosts"),
	}
	_, _, err = p.Publish(ctx, "revanced.apk")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPublish))
}
