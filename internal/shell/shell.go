// Package shell is an interactive line-oriented front end to a scan pipeline.
// Plain text is submitted as a scan of the active session; lines starting
// with a slash are commands.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mamasecure/scanstore/pkg/scan"
	"github.com/mamasecure/scanstore/pkg/session"
	"github.com/peterh/liner"
)

// ErrQuit is returned by Execute for /quit.
var ErrQuit = errors.New("quit")

var commands = []string{"/new", "/list", "/switch", "/rename", "/delete", "/show", "/help", "/quit"}

const helpText = `Type text or a URL to scan it in the active session.

Commands:
  /new                   start a new session
  /list                  list sessions, newest first
  /switch <n|id>         make a session active
  /rename <n|id> <label> rename a session
  /delete <n|id>         delete a session
  /show                  print the active session's scans
  /help                  show this help
  /quit                  leave the shell
`

// Shell reads commands and scan inputs for one namespace.
type Shell struct {
	pipeline    *scan.Pipeline
	out         io.Writer
	historyFile string
}

// Option configures a Shell.
type Option func(*Shell)

// WithHistoryFile persists line history to path between runs.
func WithHistoryFile(path string) Option {
	return func(s *Shell) {
		s.historyFile = path
	}
}

// New creates a shell that writes its output to out.
func New(p *scan.Pipeline, out io.Writer, opts ...Option) *Shell {
	s := &Shell{pipeline: p, out: out}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run reads lines from the terminal until /quit, EOF or Ctrl-C.
func (s *Shell) Run(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)
	line.SetCompleter(func(in string) []string {
		var out []string
		for _, c := range commands {
			if strings.HasPrefix(c, in) {
				out = append(out, c)
			}
		}
		return out
	})

	if s.historyFile != "" {
		if f, err := os.Open(s.historyFile); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
		defer s.saveHistory(line)
	}

	fmt.Fprintf(s.out, "Scanning as %s. Type /help for commands.\n", s.pipeline.Store().Namespace())
	for {
		if ctx.Err() != nil {
			return nil
		}

		input, err := line.Prompt(s.prompt())
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		if err := s.Execute(ctx, input); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

func (s *Shell) saveHistory(line *liner.State) {
	f, err := os.Create(s.historyFile)
	if err != nil {
		log.Printf("[Shell] WARNING: cannot write history: %v", err)
		return
	}
	defer f.Close()
	if _, err := line.WriteHistory(f); err != nil {
		log.Printf("[Shell] WARNING: cannot write history: %v", err)
	}
}

func (s *Shell) prompt() string {
	sess, err := s.pipeline.Store().Active()
	if err != nil {
		return "> "
	}
	return fmt.Sprintf("[%s] > ", strings.TrimSpace(sess.Label))
}

// Execute runs one line of input. Anything that is not a command is
// scanned exactly as typed. Persistence warnings are printed and not
// returned.
func (s *Shell) Execute(ctx context.Context, input string) error {
	line := strings.TrimSpace(input)
	if !strings.HasPrefix(line, "/") {
		return s.scan(ctx, input)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	st := s.pipeline.Store()

	switch cmd {
	case "/new":
		sess, err := st.CreateSession(ctx)
		if err := s.warn(err); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Started %q.\n", sess.Label)
	case "/list":
		s.list()
	case "/switch":
		id, err := s.resolve(rest)
		if err != nil {
			return err
		}
		if err := st.SetActive(id); err != nil {
			return err
		}
		sess, _ := st.Active()
		fmt.Fprintf(s.out, "Switched to %q.\n", sess.Label)
	case "/rename":
		target, label, _ := strings.Cut(rest, " ")
		id, err := s.resolve(target)
		if err != nil {
			return err
		}
		if strings.TrimSpace(label) == "" {
			return errors.New("usage: /rename <n|id> <label>")
		}
		if err := s.warn(st.RenameSession(ctx, id, label)); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Renamed to %q.\n", strings.TrimSpace(label))
	case "/delete":
		id, err := s.resolve(rest)
		if err != nil {
			return err
		}
		if err := s.warn(st.DeleteSession(ctx, id)); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Deleted.")
	case "/show":
		sess, err := st.Active()
		if err != nil {
			return err
		}
		s.show(sess)
	case "/help":
		fmt.Fprint(s.out, helpText)
	case "/quit", "/exit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return nil
}

func (s *Shell) scan(ctx context.Context, input string) error {
	job, err := s.pipeline.Submit(ctx, input)
	if err != nil || job == nil {
		return err
	}
	fmt.Fprintln(s.out, "Scanning...")

	result, err := job.Wait(ctx)
	if err := s.warn(err); err != nil {
		return err
	}
	writeResult(s.out, result)
	return nil
}

// warn prints a persistence warning and swallows it.
func (s *Shell) warn(err error) error {
	if err != nil && session.IsWarning(err) {
		fmt.Fprintf(s.out, "Warning: %v\n", err)
		return nil
	}
	return err
}

// resolve maps a 1-based position from /list, or a session id, to an id.
func (s *Shell) resolve(arg string) (string, error) {
	if arg == "" {
		return "", errors.New("missing session number")
	}
	sessions := s.pipeline.Store().Sessions()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(sessions) {
			return "", fmt.Errorf("no session %d: %w", n, session.ErrSessionNotFound)
		}
		return sessions[n-1].ID, nil
	}
	for _, sess := range sessions {
		if sess.ID == arg {
			return arg, nil
		}
	}
	return "", fmt.Errorf("%s: %w", arg, session.ErrSessionNotFound)
}

func (s *Shell) list() {
	st := s.pipeline.Store()
	active := st.ActiveID()
	for i, sess := range st.Sessions() {
		marker := " "
		if sess.ID == active {
			marker = "*"
		}
		fmt.Fprintf(s.out, "%s %d. %s (%d scans)\n", marker, i+1, sess.Label, len(sess.Scans))
	}
}

func (s *Shell) show(sess session.Session) {
	fmt.Fprintf(s.out, "%s\n", sess.Label)
	if len(sess.Scans) == 0 {
		fmt.Fprintln(s.out, "  no scans yet")
		return
	}
	for _, rec := range sess.Scans {
		fmt.Fprintf(s.out, "\n> %s\n", rec.Input)
		writeResult(s.out, rec.Result)
	}
}

func writeResult(w io.Writer, r session.ScanResult) {
	fmt.Fprintf(w, "%s (%d%% confidence)\n", strings.ToUpper(string(r.Status)), r.Confidence)
	for _, e := range r.Explanation {
		fmt.Fprintf(w, "  - %s\n", e)
	}
	if len(r.Sources) > 0 {
		fmt.Fprintf(w, "  Sources: %s\n", strings.Join(r.Sources, ", "))
	}
}
