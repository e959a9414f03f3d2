package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
	"github.com/rs/zerolog/log"
)

// rename is swapped in tests to force the staged path.
var rename = os.Rename

// Relocate moves src to dst, replacing any existing file. dst is either the
// complete new file or left as it was: the content is staged next to dst
// and renamed over it.
func Relocate(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRelocation, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrRelocation, src)
	}
	if err = rename(src, dst); err == nil {
		return nil
	}
	log.Debug().Err(err).Str("src", src).Str("dst", dst).Msg("rename failed, staging a copy")

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: stage: %w", ErrRelocation, err)
	}
	staged := tmp.Name()
	tmp.Close()

	if err := copy.Copy(src, staged, copy.Options{Sync: true}); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("%w: copy: %w", ErrRelocation, err)
	}
	if err := rename(staged, dst); err != nil {
		_ = os.Remove(staged)
		return fmt.Errorf("%w: %w", ErrRelocation, err)
	}
	_ = os.Remove(src)
	return nil
}
