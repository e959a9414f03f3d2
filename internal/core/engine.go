package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aliharslan0/pyrevanced/internal/telemetry"
	"github.com/aliharslan0/pyrevanced/pkg/api"
)

// File names inside the working directory the engine reads and writes.
const (
	EngineJarName    = "cli.jar"
	BundleName       = "patches.jar"
	IntegrationsName = "integrations.apk"
	AppName          = "youtube.apk"
	EngineOutputName = "output.apk"
)

// NewInvocationSpec points every engine input at the session working directory.
func NewInvocationSpec(s *Session, sel api.PatchSelection) api.InvocationSpec {
	return api.InvocationSpec{
		Jar:          s.Path(EngineJarName),
		App:          s.Path(AppName),
		Bundle:       s.Path(BundleName),
		Integrations: s.Path(IntegrationsName),
		Output:       s.Path(EngineOutputName),
		Selection:    sel,
	}
}

// Engine runs the external patcher: java -jar cli.jar ...
type Engine struct {
	Java    string
	Stdout  io.Writer
	Stderr  io.Writer
	Metrics *telemetry.Collector
}

// Args builds the engine command line. Patch flags follow catalog order.
func (e *Engine) Args(spec api.InvocationSpec) []string {
	args := []string{
		"-jar", spec.Jar,
		"-a", spec.App,
		"-b", spec.Bundle,
		"-m", spec.Integrations,
		"-o", spec.Output,
	}
	for _, name := range spec.Selection.Included {
		args = append(args, "-i", name)
	}
	for _, name := range spec.Selection.Excluded {
		args = append(args, "-e", name)
	}
	return args
}

// Build runs the engine and moves its output to dest.
func (e *Engine) Build(ctx context.Context, spec api.InvocationSpec, dest string) error {
	if err := e.Run(ctx, spec); err != nil {
		return err
	}
	return Relocate(spec.Output, dest)
}

// Run spawns the engine, relays its stdout line by line and waits for it.
func (e *Engine) Run(ctx context.Context, spec api.InvocationSpec) error {
	out := e.Stdout
	if out == nil {
		out = os.Stdout
	}
	cmd := exec.CommandContext(ctx, e.Java, e.Args(spec)...)
	cmd.Stderr = e.Stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEngineFailure, err)
	}

	log.Debug().Str("java", e.Java).Strs("args", cmd.Args[1:]).Msg("starting engine")
	start := time.Now()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start %s: %w", ErrEngineFailure, e.Java, err)
	}

	relay(out, stdout)

	err = cmd.Wait()
	elapsed := time.Since(start)
	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
	}
	e.Metrics.RecordEngine(elapsed, exitCode)
	if err != nil {
		return fmt.Errorf("%w: exit status %d: %w", ErrEngineFailure, exitCode, err)
	}
	fmt.Fprintf(out, "Patching completed in %.2f seconds.\n", elapsed.Seconds())

	if info, err := os.Stat(spec.Output); err != nil || info.IsDir() {
		return fmt.Errorf("%w: output %s was not produced", ErrEngineFailure, spec.Output)
	}
	return nil
}

// relay copies r to w one whole line at a time, whatever the line length.
// A last line without a newline gets one.
func relay(w io.Writer, r io.Reader) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if !strings.HasSuffix(line, "\n") {
				line += "\n"
			}
			_, _ = io.WriteString(w, line)
		}
		if err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Msg("engine output relay stopped")
				_, _ = io.Copy(io.Discard, r)
			}
			return
		}
	}
}
