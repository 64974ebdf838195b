// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package gnuplotlib_test

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/taskgroup"
	"github.com/dkogan/gnuplotlib"
	"github.com/dkogan/gnuplotlib/command"
	"github.com/fortytw2/leaktest"
)

// A fakeGnuplot stands in for a gnuplot process on the far side of a pair
// of pipes. It reads the command stream line by line, answers sync prints
// on the diagnostic stream, and emits whatever respond returns for the
// other commands it sees.
type fakeGnuplot struct {
	respond func(line string) string // diagnostic text provoked by a command; may be nil

	μ     sync.Mutex
	lines []string // every line received, in order
}

var syncPrintRE = regexp.MustCompile(`^print "(gpsync\d+xxx)"$`)

// start wires the fake to a session and returns the session plus a cleanup
// that tears down the pipes and waits for the reader to exit.
func (f *fakeGnuplot) start(t *testing.T, cfg gnuplotlib.Config) (*gnuplotlib.Session, func()) {
	t.Helper()
	cmdR, cmdW := io.Pipe()
	diagR, diagW := io.Pipe()

	reader := taskgroup.Go(func() error {
		defer diagW.Close()
		var pending string
		sc := bufio.NewScanner(cmdR)
		for sc.Scan() {
			line := sc.Text()
			f.μ.Lock()
			f.lines = append(f.lines, line)
			f.μ.Unlock()

			if m := syncPrintRE.FindStringSubmatch(line); m != nil {
				if _, err := io.WriteString(diagW, pending+m[1]+"\n"); err != nil {
					return err
				}
				pending = ""
			} else if f.respond != nil {
				pending += f.respond(line)
			}
		}
		return sc.Err()
	})

	s := gnuplotlib.NewSession(cmdW, diagR, cfg)
	return s, func() {
		cmdW.Close()
		diagR.Close()
		reader.Wait()
	}
}

func (f *fakeGnuplot) received() []string {
	f.μ.Lock()
	defer f.μ.Unlock()
	return append([]string(nil), f.lines...)
}

func (f *fakeGnuplot) sawCommand(cmd string) bool {
	for _, line := range f.received() {
		if line == cmd {
			return true
		}
	}
	return false
}

func TestSendCommand(t *testing.T) {
	defer leaktest.Check(t)()

	fake := &fakeGnuplot{respond: func(line string) string {
		switch line {
		case "set title \"boom\"":
			return "         ^\n         line 0: invalid command\n"
		case "set grid":
			return "Warning: grids are so last year\n"
		}
		return ""
	}}

	var warnings []string
	s, cleanup := fake.start(t, gnuplotlib.Config{
		OnWarning: func(w string) { warnings = append(warnings, w) },
	})
	defer cleanup()

	if err := s.SendCommand("set key box"); err != nil {
		t.Errorf("SendCommand(set key box): unexpected error: %v", err)
	}

	if err := s.SendCommand("set grid"); err != nil {
		t.Errorf("SendCommand(set grid): unexpected error: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "last year") {
		t.Errorf("warnings = %q, want the grid warning", warnings)
	}

	err := s.SendCommand(`set title "boom"`)
	var cerr *gnuplotlib.CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("SendCommand: got %v, want CommandError", err)
	}
	if cerr.Cmd != `set title "boom"` || !strings.Contains(cerr.Message, "invalid command") {
		t.Errorf("CommandError = %+v, want failing command and its message", cerr)
	}
}

func TestCommandGuards(t *testing.T) {
	defer leaktest.Check(t)()

	fake := &fakeGnuplot{}
	s, cleanup := fake.start(t, gnuplotlib.Config{})
	defer cleanup()

	for _, cmd := range []string{
		"print sin(5)",
		"set print '/tmp/x'",
		"set terminal png",
		"set output 'x.png'",
		"set key; set output 'x.png'",
		"set grid\nset output 'x.png'",
	} {
		if err := s.SendCommand(cmd); err == nil {
			t.Errorf("SendCommand(%q) unexpectedly succeeded", cmd)
		}
	}
	// None of the rejected commands may have reached the process.
	for _, line := range fake.received() {
		if strings.Contains(line, "set output") || strings.Contains(line, "set terminal") {
			t.Errorf("rejected command leaked to gnuplot: %q", line)
		}
	}
}

func TestHangDetection(t *testing.T) {
	defer leaktest.Check(t)()

	// A fake that never answers sync prints: the driver must conclude the
	// process is stuck rather than wait forever.
	cmdR, cmdW := io.Pipe()
	diagR, diagW := io.Pipe()
	defer cmdW.Close()
	defer diagW.Close()

	drain := taskgroup.Go(func() error {
		_, err := io.Copy(io.Discard, cmdR)
		return err
	})
	defer drain.Wait()
	defer cmdR.Close()

	s := gnuplotlib.NewSession(cmdW, diagR, gnuplotlib.Config{Timeout: 50 * time.Millisecond})
	defer diagR.Close()

	err := s.SendCommand("set grid")
	var herr *gnuplotlib.HangError
	if !errors.As(err, &herr) {
		t.Fatalf("SendCommand: got %v, want HangError", err)
	}
	if herr.Timeout != 50*time.Millisecond {
		t.Errorf("HangError.Timeout = %v, want 50ms", herr.Timeout)
	}
	if !s.Stuck() {
		t.Error("session should be stuck after a hang")
	}

	// A stuck session refuses everything.
	if err := s.SendCommand("set grid"); !errors.Is(err, gnuplotlib.ErrSessionStuck) {
		t.Errorf("SendCommand on stuck session: got %v, want ErrSessionStuck", err)
	}
}

func TestWait(t *testing.T) {
	defer leaktest.Check(t)()

	// The window stays open well past the session timeout: the fake sits
	// silent before acknowledging the pause. Wait must ride out the silence
	// instead of declaring a hang.
	fake := &fakeGnuplot{respond: func(line string) string {
		if line == "pause mouse close" {
			time.Sleep(100 * time.Millisecond)
		}
		return ""
	}}
	s, cleanup := fake.start(t, gnuplotlib.Config{Timeout: 20 * time.Millisecond})
	defer cleanup()

	p := gnuplotlib.NewWithSession(gnuplotlib.Options{}, s)
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if !fake.sawCommand("pause mouse close") {
		t.Error("Wait did not send the pause command")
	}
	if s.Stuck() {
		t.Error("session is stuck after a successful Wait")
	}
}

func TestWaitSkippedForNoninteractive(t *testing.T) {
	defer leaktest.Check(t)()

	fake := &fakeGnuplot{}
	s, cleanup := fake.start(t, gnuplotlib.Config{Features: gnuplotlib.NewFeatureSet()})
	defer cleanup()

	curve := &command.Curve{Data: []command.Array{command.Vector([]float64{1, 2})}}

	// A known-noninteractive terminal has no window to wait for.
	p := gnuplotlib.NewWithSession(gnuplotlib.Options{Wait: true, Terminal: "dumb", NoTest: true}, s)
	if err := p.Plot(&command.Subplot{}, curve); err != nil {
		t.Fatalf("Plot failed: %v", err)
	}
	if fake.sawCommand("pause mouse close") {
		t.Error("plot waited on a noninteractive terminal")
	}

	// The same options on an interactive terminal do wait.
	p = gnuplotlib.NewWithSession(gnuplotlib.Options{Wait: true, Terminal: "qt", NoTest: true}, s)
	if err := p.Plot(&command.Subplot{}, curve); err != nil {
		t.Fatalf("Plot failed: %v", err)
	}
	if !fake.sawCommand("pause mouse close") {
		t.Error("plot did not wait on an interactive terminal")
	}
}

func TestPlotFlow(t *testing.T) {
	defer leaktest.Check(t)()

	fake := &fakeGnuplot{}
	s, cleanup := fake.start(t, gnuplotlib.Config{Features: gnuplotlib.NewFeatureSet()})
	defer cleanup()

	p := gnuplotlib.NewWithSession(gnuplotlib.Options{}, s)
	err := p.Plot(&command.Subplot{Title: "flow"},
		&command.Curve{Data: []command.Array{command.Vector([]float64{5, 6, 7})}})
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}

	lines := fake.received()
	order := []string{
		"set output '/dev/null'", // dry run goes nowhere visible
		"set terminal dumb",
		"set grid",
		`set title "flow"`,
		`plot '-' binary record=1 format="%double%double" using 1:2 notitle with linespoints`,
		"set terminal pop; set terminal push",
		"set output", // interactive null output
		`plot '-' binary record=3 format="%double%double" using 1:2 notitle with linespoints`,
	}
	pos := -1
	for _, want := range order {
		found := -1
		for i, line := range lines {
			if i > pos && line == want {
				found = i
				break
			}
		}
		if found < 0 {
			t.Fatalf("command %q missing (or out of order) in stream:\n%s", want, strings.Join(lines, "\n"))
		}
		pos = found
	}
}

func TestPlotSetupFailureAborts(t *testing.T) {
	defer leaktest.Check(t)()

	fake := &fakeGnuplot{respond: func(line string) string {
		if strings.HasPrefix(line, "set title") {
			return "         ^\n         line 0: invalid command\n"
		}
		return ""
	}}
	s, cleanup := fake.start(t, gnuplotlib.Config{Features: gnuplotlib.NewFeatureSet()})
	defer cleanup()

	p := gnuplotlib.NewWithSession(gnuplotlib.Options{}, s)
	err := p.Plot(&command.Subplot{Title: "bad"},
		&command.Curve{Data: []command.Array{command.Vector([]float64{1})}})
	var cerr *gnuplotlib.CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("Plot: got %v, want CommandError", err)
	}

	// The failing setup command must abort the plot before any draw command
	// reaches the process, where it would leave gnuplot expecting data.
	for _, line := range fake.received() {
		if strings.HasPrefix(line, "plot ") {
			t.Errorf("draw command leaked after setup failure: %q", line)
		}
	}
}

func TestDump(t *testing.T) {
	defer leaktest.Check(t)()

	var buf bytes.Buffer
	p, err := gnuplotlib.New(gnuplotlib.Options{
		Dump:     &buf,
		Terminal: "pngcairo",
		Output:   "out.png",
		Features: gnuplotlib.NewFeatureSet(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	err = p.Plot(&command.Subplot{},
		&command.Curve{Data: []command.Array{command.Vector([]float64{1, 2})}})
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"set terminal pngcairo\n",
		`set output "out.png"` + "\n",
		"plot '-' binary record=2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dump output missing %q:\n%s", want, out)
		}
	}
	// No process means no dry run; the dump holds exactly one plot command.
	if got := strings.Count(out, "plot '-'"); got != 1 {
		t.Errorf("dump holds %d plot commands, want 1", got)
	}
	// The curve data follows the plot command: 2 records of 2 float64s.
	if i := strings.Index(out, "binary record=2"); i >= 0 {
		rest := out[i:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && len(rest[nl+1:]) < 32 {
			t.Errorf("dump is missing the curve data payload")
		}
	}
}

func TestMultiplotDump(t *testing.T) {
	defer leaktest.Check(t)()

	var buf bytes.Buffer
	p, err := gnuplotlib.New(gnuplotlib.Options{
		Dump:     &buf,
		Terminal: "dumb",
		Features: gnuplotlib.NewFeatureSet(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	frame := func(title string) gnuplotlib.Frame {
		return gnuplotlib.Frame{
			Subplot: &command.Subplot{Title: title},
			Curves:  []*command.Curve{{Data: []command.Array{command.Vector([]float64{1, 2})}}},
		}
	}
	if err := p.Multiplot("layout 2,1", frame("top"), frame("bottom")); err != nil {
		t.Fatalf("Multiplot failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "set multiplot layout 2,1\n") {
		t.Errorf("dump missing multiplot command:\n%s", out)
	}
	if got := strings.Count(out, "plot '-'"); got != 2 {
		t.Errorf("dump holds %d plot commands, want 2", got)
	}
	// Panes must not leak state into each other.
	if got := strings.Count(out, "reset\n"); got < 2 {
		t.Errorf("dump holds %d resets, want one per pane", got)
	}
}

func TestScriptOutput(t *testing.T) {
	defer leaktest.Check(t)()

	path := filepath.Join(t.TempDir(), "plot.gp")
	p, err := gnuplotlib.New(gnuplotlib.Options{
		Output:   path,
		Features: gnuplotlib.NewFeatureSet(),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	err = p.Plot(&command.Subplot{Title: "scripted"},
		&command.Curve{Data: []command.Array{command.Vector([]float64{3, 1, 4})}})
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading script: %v", err)
	}
	script := string(data)
	if !strings.HasPrefix(script, "#!") {
		t.Errorf("script does not start with a shebang:\n%.80s", script)
	}
	if !strings.HasSuffix(script, "pause mouse close\n") {
		t.Error("script does not end with the interactive pause")
	}
	if !strings.Contains(script, `set title "scripted"`) {
		t.Error("script is missing the subplot setup")
	}

	fi, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat script: %v", err)
	}
	if fi.Mode().Perm()&0100 == 0 {
		t.Errorf("script mode = %v, want owner-executable", fi.Mode())
	}
}

func TestPlotterReuse(t *testing.T) {
	defer leaktest.Check(t)()

	fake := &fakeGnuplot{}
	s, cleanup := fake.start(t, gnuplotlib.Config{Features: gnuplotlib.NewFeatureSet()})
	defer cleanup()

	p := gnuplotlib.NewWithSession(gnuplotlib.Options{NoTest: true}, s)
	curve := &command.Curve{Data: []command.Array{command.Vector([]float64{1, 2})}}
	if err := p.Plot(&command.Subplot{}, curve); err != nil {
		t.Fatalf("first Plot failed: %v", err)
	}
	if err := p.Plot(&command.Subplot{}, curve); err != nil {
		t.Fatalf("second Plot failed: %v", err)
	}

	// The second plot starts by wiping the first plot's state.
	if !fake.sawCommand("reset") {
		t.Errorf("no reset between plots; stream:\n%s", strings.Join(fake.received(), "\n"))
	}
}

func TestMetricsShape(t *testing.T) {
	m := gnuplotlib.Metrics()
	for _, name := range []string{
		"sessions_started", "commands_sent", "syncs_ok", "syncs_hung",
		"plots_tested", "plots_committed", "data_bytes",
	} {
		if m.Get(name) == nil {
			t.Errorf("metric %q is not defined", name)
		}
	}
}

func ExamplePlotter_dump() {
	var buf bytes.Buffer
	p, err := gnuplotlib.New(gnuplotlib.Options{
		Dump:     &buf,
		Terminal: "dumb",
		ASCII:    true,
		Features: gnuplotlib.NewFeatureSet(),
	})
	if err != nil {
		panic(err)
	}
	err = p.Plot(&command.Subplot{},
		&command.Curve{Data: []command.Array{command.Vector([]float64{4, 5})}})
	if err != nil {
		panic(err)
	}
	for _, line := range strings.SplitAfter(buf.String(), "\n") {
		if strings.HasPrefix(line, "plot ") {
			fmt.Print(line)
		}
	}
	// Output:
	// plot '-' using 1:2 notitle with linespoints
}
