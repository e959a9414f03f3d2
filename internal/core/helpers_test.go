package core

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
)

// fakeJava writes a shell script standing in for the java binary. The script
// records its arguments in <dir>/args, prints a line, copies the -a input to
// the -o output (unless noOutput) and exits with code.
func fakeJava(t *testing.T, dir string, code int, noOutput bool) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script engine")
	}
	write := `cp "$app" "$out"`
	if noOutput {
		write = ":"
	}
	script := `#!/bin/sh
printf '%s\n' "$@" > "` + filepath.Join(dir, "args") + `"
prev=""
for a in "$@"; do
  case "$prev" in
    -a) app="$a" ;;
    -o) out="$a" ;;
  esac
  prev="$a"
done
echo "INFO: applying patches"
` + write + `
exit ` + strconv.Itoa(code) + "\n"
	p := filepath.Join(dir, "java")
	if err := os.WriteFile(p, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return p
}

// syncBuffer is a bytes.Buffer safe for writers on several goroutines.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
