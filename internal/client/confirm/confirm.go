package confirm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	syncpkg "github.com/openmined/drivesync/internal/client/sync"
)

const (
	ModePrompt = "prompt"
	ModeAlways = "always"
	ModeNever  = "never"

	maxAttempts = 3
)

var (
	ErrUnknownMode     = errors.New("unknown confirmation mode")
	ErrScriptExhausted = errors.New("no scripted answer left")
)

var (
	red   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	green = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	gray  = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

// Policy answers every request the same way.
type Policy bool

func (p Policy) Decide(context.Context, *syncpkg.DeletionRequest) (bool, error) {
	return bool(p), nil
}

// Prompt asks on out and reads the answer from in, one line per question.
// A question still waiting when ctx is cancelled is answered with no.
type Prompt struct {
	mu       sync.Mutex
	in       *bufio.Reader
	out      io.Writer
	remember *bool
	pending  chan readResult
	log      *slog.Logger
}

type readResult struct {
	line string
	err  error
}

func NewPrompt(in io.Reader, out io.Writer, log *slog.Logger) *Prompt {
	if log == nil {
		log = slog.Default()
	}
	return &Prompt{in: bufio.NewReader(in), out: out, log: log}
}

func (p *Prompt) Decide(ctx context.Context, req *syncpkg.DeletionRequest) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.remember != nil {
		return *p.remember, nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		fmt.Fprintf(p.out, "%s %s removed locally. Delete the remote copy? %s ",
			red.Render("DELETE"), cyan.Render(req.String()), gray.Render("[y/n/a(ll)/none]"))

		line, err := p.readLine(ctx)
		if ctx.Err() != nil {
			fmt.Fprintln(p.out)
			p.log.Warn("confirm interrupted, keeping remote", "path", req.Path)
			return false, nil
		}
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			fmt.Fprintln(p.out)
			p.log.Warn("confirm read failed, keeping remote", "path", req.Path, "error", err)
			return false, nil
		}

		answer, remember, ok := parseAnswer(line)
		if !ok {
			fmt.Fprintln(p.out, red.Render("please answer y, n, a or none"))
			continue
		}
		if remember {
			p.remember = &answer
		}
		if answer {
			fmt.Fprintln(p.out, green.Render("deleting remote copy"))
		} else {
			fmt.Fprintln(p.out, gray.Render("keeping remote copy"))
		}
		return answer, nil
	}

	p.log.Warn("no valid answer, keeping remote", "path", req.Path, "attempts", maxAttempts)
	return false, nil
}

// readLine waits for the next line of input or for ctx. A read left pending by
// a cancelled question is picked up by the next one. Must be called with mu
// held.
func (p *Prompt) readLine(ctx context.Context) (string, error) {
	if p.pending == nil {
		ch := make(chan readResult, 1)
		p.pending = ch
		go func() {
			line, err := p.in.ReadString('\n')
			ch <- readResult{line: line, err: err}
		}()
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-p.pending:
		p.pending = nil
		return r.line, r.err
	}
}

// parseAnswer returns the decision, whether it should stick for the session,
// and whether the input was understood.
func parseAnswer(line string) (answer, remember, ok bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, false, true
	case "n", "no":
		return false, false, true
	case "a", "all":
		return true, true, true
	case "none":
		return false, true, true
	default:
		return false, false, false
	}
}

// Scripted hands out queued answers in order.
type Scripted struct {
	mu      sync.Mutex
	answers []bool
	asked   []string
}

func NewScripted(answers ...bool) *Scripted {
	return &Scripted{answers: answers}
}

func (s *Scripted) Decide(_ context.Context, req *syncpkg.DeletionRequest) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.asked = append(s.asked, req.Path)
	if len(s.answers) == 0 {
		return false, ErrScriptExhausted
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

// Asked lists the paths the decider was consulted for.
func (s *Scripted) Asked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.asked...)
}

// New builds the decider for a delete_remote mode. A prompt needs a terminal
// on in; without one the agent never deletes remotely.
func New(mode string, in *os.File, out io.Writer, log *slog.Logger) (syncpkg.Decider, error) {
	if log == nil {
		log = slog.Default()
	}

	switch strings.ToLower(mode) {
	case ModeAlways:
		return Policy(true), nil
	case ModeNever:
		return Policy(false), nil
	case ModePrompt, "":
		if in == nil || !isTerminal(in) {
			log.Warn("stdin is not a terminal, remote copies will be kept", "delete_remote", ModePrompt)
			return Policy(false), nil
		}
		return NewPrompt(in, out, log), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
