package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/pkg/sftp"
	xssh "golang.org/x/crypto/ssh"
)

// PushFile uploads localPath to remotePath over SFTP. The file is written
// under a ".part" name, hashed back from the remote side and only then
// renamed into place. It returns the sha256 of the uploaded content.
func PushFile(ctx context.Context, client *xssh.Client, localPath, remotePath string) (string, error) {
	sf, err := sftp.NewClient(client)
	if err != nil {
		return "", fmt.Errorf("sftp client: %w", err)
	}
	defer sf.Close()
	return push(ctx, sf, localPath, remotePath)
}

func push(ctx context.Context, sf *sftp.Client, localPath, remotePath string) (string, error) {
	want, err := FileChecksum(localPath)
	if err != nil {
		return "", fmt.Errorf("checksum local: %w", err)
	}
	if err := sf.MkdirAll(path.Dir(remotePath)); err != nil {
		return "", fmt.Errorf("mkdir remote: %w", err)
	}

	part := remotePath + ".part"
	if err := upload(ctx, sf, localPath, part); err != nil {
		_ = sf.Remove(part)
		return "", err
	}
	got, err := remoteChecksum(sf, part)
	if err != nil {
		_ = sf.Remove(part)
		return "", fmt.Errorf("checksum remote: %w", err)
	}
	if got != want {
		_ = sf.Remove(part)
		return "", fmt.Errorf("checksum mismatch: expected %s, got %s", want, got)
	}
	if err := sf.PosixRename(part, remotePath); err != nil {
		_ = sf.Remove(part)
		return "", fmt.Errorf("rename remote: %w", err)
	}
	return want, nil
}

func upload(ctx context.Context, sf *sftp.Client, localPath, remotePath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local: %w", err)
	}
	defer src.Close()
	dst, err := sf.Create(remotePath)
	if err != nil {
		return fmt.Errorf("create remote: %w", err)
	}
	if _, err := io.Copy(dst, ctxReader{ctx: ctx, r: src}); err != nil {
		_ = dst.Close()
		return fmt.Errorf("copy: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close remote: %w", err)
	}
	return nil
}

func remoteChecksum(sf *sftp.Client, remotePath string) (string, error) {
	f, err := sf.Open(remotePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return checksum(f)
}

// FileChecksum returns the hex sha256 of a local file.
func FileChecksum(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return checksum(f)
}

func checksum(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
