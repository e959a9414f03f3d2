// Package prompt talks to the operator on a terminal: it asks which app to
// patch and which patches to apply.
package prompt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"github.com/aliharslan0/pyrevanced/internal/core"
	"github.com/aliharslan0/pyrevanced/pkg/api"
)

const appQuestion = "Youtube or Youtube Music? [YT/YTM]: "

// Prompter reads answers from In and writes questions to Out.
type Prompter struct {
	in  *bufio.Reader
	Out io.Writer
	// Preset answers the patch question without reading In.
	Preset *string
	rng    *rand.Rand

	// One goroutine owns in; answers reach readLine through lines.
	start   sync.Once
	lines   chan string
	readErr error
}

// New creates a prompter on the given streams.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		in:  bufio.NewReader(in),
		Out: out,
		rng: rand.New(rand.NewSource(rand.Int63())),
	}
}

// ChooseApp asks for the target app. An unknown answer is ErrInvalidApp;
// there is no second chance.
func (p *Prompter) ChooseApp(ctx context.Context) (api.App, error) {
	fmt.Fprint(p.Out, appQuestion)
	line, err := p.readLine(ctx)
	if err != nil {
		return 0, err
	}
	app, err := api.ParseApp(line)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrInvalidApp, err)
	}
	return app, nil
}

// Select lists the patches and returns the indices the operator typed.
// It satisfies core.Selector.
func (p *Prompter) Select(ctx context.Context, patches []api.PatchDescriptor) ([]int, error) {
	if p.Preset != nil {
		return ParseIndices(*p.Preset, len(patches)), nil
	}
	fmt.Fprint(p.Out, FormatPatches(patches))
	fmt.Fprintf(p.Out, "Select the patches you want as \"%s ...\": ", strings.Join(p.examples(len(patches)), " "))
	line, err := p.readLine(ctx)
	if err != nil {
		return nil, err
	}
	return ParseIndices(line, len(patches)), nil
}

// FormatPatches renders one "[NN] name<pad>: description" line per patch,
// names padded to the longest name plus four.
func FormatPatches(patches []api.PatchDescriptor) string {
	longest := 0
	for _, d := range patches {
		longest = max(longest, len(d.Name))
	}
	var b strings.Builder
	for i, d := range patches {
		fmt.Fprintf(&b, "[%02d] %-*s: %s\n", i, longest+4, d.Name, d.Description)
	}
	return b.String()
}

// ParseIndices keeps the whitespace separated tokens that are plain decimal
// numbers below n. Anything else, signs included, is dropped, as are repeats.
func ParseIndices(input string, n int) []int {
	seen := make(map[int]struct{})
	out := []int{}
	for _, tok := range strings.Fields(input) {
		if strings.TrimLeft(tok, "0123456789") != "" {
			continue
		}
		i, err := strconv.Atoi(tok)
		if err != nil || i >= n {
			continue
		}
		if _, dup := seen[i]; dup {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}

func (p *Prompter) examples(n int) []string {
	picks := p.rng.Perm(n)
	picks = picks[:min(3, n)]
	out := make([]string, len(picks))
	for i, v := range picks {
		out[i] = strconv.Itoa(v)
	}
	return out
}

// readLine returns one trimmed line. A final line without a newline counts.
// A line typed after ctx was cancelled is handed to the next call.
func (p *Prompter) readLine(ctx context.Context) (string, error) {
	p.start.Do(func() {
		p.lines = make(chan string)
		go p.readLines()
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-p.lines:
		if !ok {
			return "", fmt.Errorf("read answer: %w", p.readErr)
		}
		return line, nil
	}
}

func (p *Prompter) readLines() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		if err != nil {
			p.readErr = err
			return
		}
		p.lines <- strings.TrimSpace(line)
	}
}
