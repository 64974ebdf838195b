// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package gnuplotlib

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/dkogan/gnuplotlib/classify"
	"golang.org/x/sys/unix"
)

// LogInfo describes one unit of session traffic for a [CommandLog].
type LogInfo struct {
	Send bool   // true for driver → gnuplot traffic, false for diagnostics read back
	Text string // the raw bytes, as text
}

// A CommandLog receives a copy of all traffic on a session: every command
// and data byte sent to gnuplot, and every diagnostic chunk read back. The
// callback must not block; the session waits for it.
type CommandLog func(LogInfo)

// A Config carries the settings of a gnuplot session. A zero Config is
// ready to use and selects the defaults described on the fields.
type Config struct {
	// GnuplotPath is the gnuplot binary to run; empty uses DefaultGnuplot.
	GnuplotPath string

	// Features describes the binary's capabilities. If nil, the binary on
	// GnuplotPath is probed once at session start.
	Features *FeatureSet

	// Timeout bounds how long a sync point waits for the process between
	// reads before declaring it hung. Zero means 15 seconds.
	Timeout time.Duration

	// Classify is the diagnostic classification table; nil uses
	// classify.Default.
	Classify *classify.Table

	// Log, if set, receives a copy of all session traffic.
	Log CommandLog

	// OnWarning, if set, receives gnuplot warnings one at a time; otherwise
	// warnings are written to stderr.
	OnWarning func(string)
}

func (c *Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return 15 * time.Second
}

func (c *Config) table() *classify.Table {
	if c.Classify != nil {
		return c.Classify
	}
	return classify.Default()
}

func (c *Config) warn(msg string) {
	if c.OnWarning != nil {
		c.OnWarning(msg)
		return
	}
	fmt.Fprintf(os.Stderr, "gnuplot warns: %s\n", msg)
}

func (c *Config) log(info LogInfo) {
	if c.Log != nil {
		c.Log(info)
	}
}

// A Session is one running gnuplot process and the driver state needed to
// talk to it: the command pipe, the diagnostic backchannel, and the sync
// counter. A Session is not safe for concurrent use.
//
// Sessions write commands to the process's stdin and read diagnostics from
// its stderr. Stderr doubles as the sync backchannel, which is why the
// session refuses commands that would redirect it (see [Session.SendCommand]).
type Session struct {
	cfg     Config
	proc    *exec.Cmd     // nil when writing a script instead of driving a process
	in      io.Writer     // command pipe
	closeIn io.Closer     // closes the command pipe, if owned
	outDup  *os.File      // stdout handle passed to the child as fd 3
	diag    <-chan string // diagnostic chunks; nil when there is no backchannel
	pump    *taskgroup.Single[error]

	syncCount int
	pending   string // diagnostic text read past the last sync token
	stuck     bool
	closed    bool

	terminalDefault string
}

// diagChunk is the read size of the diagnostic pump. Diagnostics are tiny;
// the size only has to cover a burst of warnings between sync points.
const diagChunk = 4096

// childOutputFD is the descriptor number the child sees for the inherited
// stdout handle.
const childOutputFD = 3

// StartSession launches a gnuplot process and returns a session driving it.
// The caller must Close the session to release the process.
func StartSession(cfg Config) (*Session, error) {
	path := cfg.GnuplotPath
	if path == "" {
		path = DefaultGnuplot
	}
	if cfg.Features == nil {
		fs, err := Probe(context.Background(), path)
		if err != nil {
			return nil, err
		}
		cfg.Features = fs
	}

	proc := exec.Command(path)
	proc.Stdout = io.Discard
	stdin, err := proc.StdinPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := proc.StderrPipe()
	if err != nil {
		return nil, err
	}

	// Hand the child a duplicate of our stdout. Terminals that render to
	// the console (notably "dumb") must not write into the command pipe,
	// so plots without an output file are directed at this handle instead.
	// The dup keeps the handle alive even if the caller later redirects
	// os.Stdout.
	var outDup *os.File
	if fd, err := unix.Dup(int(os.Stdout.Fd())); err == nil {
		outDup = os.NewFile(uintptr(fd), "|stdout")
		proc.ExtraFiles = []*os.File{outDup}
	}
	if err := proc.Start(); err != nil {
		if outDup != nil {
			outDup.Close()
		}
		return nil, fmt.Errorf("start %s: %w", path, err)
	}

	s := newSession(cfg, proc, stdin, stderr, outDup)
	if err := s.handshake(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func newSession(cfg Config, proc *exec.Cmd, stdin io.WriteCloser, stderr io.Reader, outDup *os.File) *Session {
	s := &Session{
		cfg:       cfg,
		proc:      proc,
		in:        stdin,
		closeIn:   stdin,
		outDup:    outDup,
		syncCount: 1,
	}
	s.startPump(stderr)
	rootMetrics.sessionsStarted.Add(1)
	return s
}

// handshake discovers the default terminal and saves it on gnuplot's
// terminal stack, so the driver can restore it after rendering to "dumb"
// during a dry run.
func (s *Session) handshake() error {
	if err := s.writeLine("show terminal"); err != nil {
		return err
	}
	res, err := s.sync(ckReportWarnings)
	if err != nil {
		return err
	}
	if m := terminalTypeRE.FindStringSubmatch(res.Err); m != nil {
		s.terminalDefault = m[1]
	}
	return s.command("set terminal push", allowTerminal)
}

var terminalTypeRE = regexp.MustCompile(`(?i)terminal type is +(.+?) +`)

// NewSession constructs a session over an explicit command pipe and
// diagnostic stream, without a process. It is intended for tests that stand
// in for gnuplot, and for script generation: with diag nil, sync points are
// skipped entirely and commands are written without acknowledgement. The
// session does not take ownership of w; closing it is the caller's problem.
func NewSession(w io.Writer, diag io.Reader, cfg Config) *Session {
	s := &Session{cfg: cfg, in: w, syncCount: 1, terminalDefault: "x11"}
	if diag != nil {
		s.startPump(diag)
	}
	return s
}

// startPump starts the diagnostic pump, which forwards chunks of diag on a
// channel until the stream ends. Chunked reads keep the sync loop from
// polling a byte at a time.
func (s *Session) startPump(diag io.Reader) {
	ch := make(chan string, 16)
	s.diag = ch
	s.pump = taskgroup.Go(func() error {
		defer close(ch)
		buf := make([]byte, diagChunk)
		for {
			n, err := diag.Read(buf)
			if n > 0 {
				text := string(buf[:n])
				s.cfg.log(LogInfo{Text: text})
				ch <- text
			}
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
		}
	})
}

// DefaultTerminal returns the terminal gnuplot selected at startup, or ""
// if it could not be discovered.
func (s *Session) DefaultTerminal() string { return s.terminalDefault }

// Features returns the feature set of the session's gnuplot.
func (s *Session) Features() *FeatureSet { return s.cfg.Features }

// OutputPath returns the path the child process can open to write to the
// driver's stdout, or "" if no stdout handle was passed to it.
func (s *Session) OutputPath() string {
	if s.outDup == nil {
		return ""
	}
	return fmt.Sprintf("/dev/fd/%d", childOutputFD)
}

// Stuck reports whether the session has given up on its process after an
// unacknowledged sync point.
func (s *Session) Stuck() bool { return s.stuck }

// allow flags for command: the driver itself may manage the terminal and
// output state that callers are locked out of.
type allowFlag uint8

const (
	allowNone allowFlag = iota
	allowTerminal
	allowOutput
)

type commandGuard struct {
	re     *regexp.Regexp
	except allowFlag
	reason string
}

// Commands are rejected when any semicolon-separated clause starts with a
// statement that would break the diagnostic backchannel or fight the
// driver's terminal management.
var commandGuards = []commandGuard{
	{regexp.MustCompile(`^(?:.*;)?\s*set\s+print\b`), allowNone,
		"'set print' would redirect the diagnostic stream this driver relies on"},
	{regexp.MustCompile(`^(?:.*;)?\s*print\b`), allowNone,
		"'print' output is indistinguishable from gnuplot diagnostics; the driver cannot sync around it"},
	{regexp.MustCompile(`^(?:.*;)?\s*set\s+terminal\b`), allowTerminal,
		"use the Terminal plot option instead of 'set terminal'"},
	{regexp.MustCompile(`^(?:.*;)?\s*set\s+output\b`), allowOutput,
		"use the Output plot option instead of 'set output'"},
}

func checkCommand(cmd string, allow allowFlag) error {
	// Each newline-separated statement is vetted on its own, so a guarded
	// command cannot ride into the pipe behind an innocuous first line.
	for _, line := range strings.Split(cmd, "\n") {
		for _, g := range commandGuards {
			if g.except == allow && allow != allowNone {
				continue
			}
			if g.re.MatchString(line) {
				return &CommandError{Cmd: cmd, Message: g.reason}
			}
		}
	}
	return nil
}

// SendCommand sends one command to gnuplot and syncs, reporting any error
// the command provoked. Commands that would disturb the session's own
// machinery (print, set print, set terminal, set output) are rejected
// without being sent.
func (s *Session) SendCommand(cmd string) error { return s.command(cmd, allowNone) }

// command is SendCommand with the driver's own exemptions.
func (s *Session) command(cmd string, allow allowFlag) error {
	if err := checkCommand(cmd, allow); err != nil {
		return err
	}
	if err := s.writeLine(cmd); err != nil {
		return err
	}
	res, err := s.sync(ckReportWarnings)
	if err != nil {
		return err
	}
	if res.Err != "" {
		return &CommandError{Cmd: cmd, Message: res.Err, Warnings: res.Warnings}
	}
	return nil
}

// writeLine sends one command line.
func (s *Session) writeLine(cmd string) error {
	if s.stuck {
		return ErrSessionStuck
	}
	rootMetrics.commandsSent.Add(1)
	s.cfg.log(LogInfo{Send: true, Text: cmd + "\n"})
	_, err := io.WriteString(s.in, cmd+"\n")
	return err
}

// writeData sends raw curve data bytes.
func (s *Session) writeData(data []byte) error {
	if s.stuck {
		return ErrSessionStuck
	}
	rootMetrics.dataBytes.Add(int64(len(data)))
	s.cfg.log(LogInfo{Send: true, Text: string(data)})
	_, err := s.in.Write(data)
	return err
}

// writeDataFrom streams curve data from a WriterTo.
func (s *Session) writeDataFrom(src io.WriterTo) error {
	if s.stuck {
		return ErrSessionStuck
	}
	n, err := src.WriteTo(s.in)
	rootMetrics.dataBytes.Add(n)
	return err
}

// Close asks the process to exit and waits for it. A process that ignores
// the request is killed. Close is idempotent; later calls report nil.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.proc == nil {
		if s.closeIn != nil {
			return s.closeIn.Close()
		}
		return nil
	}

	// A well-behaved gnuplot exits on request. A stuck one is in an
	// unknown parse state and only the pipe closing (or a kill) will do.
	if !s.stuck {
		s.writeLine("exit")
	}
	if s.closeIn != nil {
		s.closeIn.Close()
	}

	done := taskgroup.Go(taskgroup.NoError(func() { s.proc.Wait() }))
	select {
	case <-time.After(5 * time.Second):
		s.proc.Process.Kill()
		done.Wait()
	case <-waitDone(done):
	}

	if s.pump != nil {
		s.pump.Wait()
	}
	if s.outDup != nil {
		s.outDup.Close()
	}
	return nil
}

func waitDone(t *taskgroup.Single[error]) <-chan struct{} {
	ch := make(chan struct{})
	go func() { defer close(ch); t.Wait() }()
	return ch
}
