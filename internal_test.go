// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package gnuplotlib

import (
	"bytes"
	"os/exec"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseHelpOptions(t *testing.T) {
	help := `Usage: gnuplot [OPTION] ... [FILE]
  -V, --version
  -h, --help
  -p  --persist
  -s  --slow
  -d  --default-settings
  -c  scriptfile ARG1 ARG2 ...
  -e  "command1; command2; ..."
gnuplot 5.4 patchlevel 2`

	got := parseHelpOptions(help)
	want := []string{"version", "help", "persist", "slow", "default"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("options (-want, +got):\n%s", diff)
	}

	if got := parseHelpOptions("no long options here"); got != nil {
		t.Errorf("parseHelpOptions = %q, want none", got)
	}

	// Duplicates collapse.
	if got := parseHelpOptions("--persist --persist --PERSIST"); len(got) != 1 {
		t.Errorf("parseHelpOptions = %q, want one entry", got)
	}
}

func TestNoEqualView(t *testing.T) {
	tests := []struct {
		output string
		want   bool // true when the output denies "set view equal" support
	}{
		{"", false},
		{`line 0: Unrecognized option.  See 'help set view'.`, true},
		{`line 0: undefined variable: equal`, true},
		{"gnuplot 5.4\n", false},
	}
	for _, tc := range tests {
		if got := noEqualView.MatchString(tc.output); got != tc.want {
			t.Errorf("noEqualView(%q) = %v, want %v", tc.output, got, tc.want)
		}
	}
}

func TestEqualViewSupported(t *testing.T) {
	tests := []struct {
		out  string
		err  error
		want bool
	}{
		{"", nil, true},
		{"line 0: Unrecognized option.  See 'help set view'.", nil, false},

		// A probe that could not run does not advertise the feature, and
		// does not fail the caller either.
		{"", exec.ErrNotFound, false},
		{"gnuplot 5.4\n", exec.ErrNotFound, false},
	}
	for _, tc := range tests {
		if got := equalViewSupported(tc.out, tc.err); got != tc.want {
			t.Errorf("equalViewSupported(%q, %v) = %v, want %v", tc.out, tc.err, got, tc.want)
		}
	}
}

func TestCheckCommand(t *testing.T) {
	tests := []struct {
		cmd   string
		allow allowFlag
		ok    bool
	}{
		{"set grid", allowNone, true},
		{"plot sin(x)", allowNone, true},
		{"  print 5", allowNone, false},
		{"print 5", allowTerminal, false},
		{"set print '-'", allowNone, false},
		{"set terminal png", allowNone, false},
		{"set terminal push", allowTerminal, true},
		{"set output", allowNone, false},
		{"set output", allowOutput, true},
		{"set grid; set output 'x'", allowNone, false},
		{"unset printme", allowNone, true},
		{"set key box; plot sin(x)", allowNone, true},

		// Guarded commands hiding behind a newline are still rejected.
		{"set grid\nset output 'x'", allowNone, false},
		{"set key box\nprint 5", allowNone, false},
		{"set grid\nset terminal png", allowOutput, false},
		{"set grid\nset key box", allowNone, true},
	}
	for _, tc := range tests {
		err := checkCommand(tc.cmd, tc.allow)
		if got := err == nil; got != tc.ok {
			t.Errorf("checkCommand(%q, %v): err = %v, want ok = %v", tc.cmd, tc.allow, err, tc.ok)
		}
	}
}

// A closeBuffer is a command pipe that records how often it was closed.
type closeBuffer struct {
	bytes.Buffer
	closed int
}

func (c *closeBuffer) Close() error { c.closed++; return nil }

func TestSessionClose(t *testing.T) {
	// The process here is never started, so Wait reports immediately and
	// Close never reaches its kill timeout.
	newTestSession := func(cb *closeBuffer) *Session {
		return &Session{proc: exec.Command("gnuplot"), in: cb, closeIn: cb, syncCount: 1}
	}

	t.Run("NeverStarted", func(t *testing.T) {
		s := NewSession(new(bytes.Buffer), nil, Config{})
		if err := s.Close(); err != nil {
			t.Errorf("Close: unexpected error: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close: unexpected error: %v", err)
		}
	})

	t.Run("AsksExit", func(t *testing.T) {
		var cb closeBuffer
		s := newTestSession(&cb)
		if err := s.Close(); err != nil {
			t.Errorf("Close: unexpected error: %v", err)
		}
		if got := cb.String(); !strings.Contains(got, "exit\n") {
			t.Errorf("Close did not request exit; pipe holds %q", got)
		}
		if cb.closed != 1 {
			t.Errorf("command pipe closed %d times, want 1", cb.closed)
		}
	})

	t.Run("StuckSkipsExit", func(t *testing.T) {
		var cb closeBuffer
		s := newTestSession(&cb)
		s.stuck = true
		if err := s.Close(); err != nil {
			t.Errorf("Close: unexpected error: %v", err)
		}
		// A stuck process is in an unknown parse state; Close must not feed
		// it more commands.
		if got := cb.String(); got != "" {
			t.Errorf("Close wrote %q to a stuck process, want nothing", got)
		}
		if cb.closed != 1 {
			t.Errorf("command pipe closed %d times, want 1", cb.closed)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		var cb closeBuffer
		s := newTestSession(&cb)
		if err := s.Close(); err != nil {
			t.Errorf("Close: unexpected error: %v", err)
		}
		if err := s.Close(); err != nil {
			t.Errorf("second Close: unexpected error: %v", err)
		}
		if cb.closed != 1 {
			t.Errorf("command pipe closed %d times, want 1", cb.closed)
		}
		if got := strings.Count(cb.String(), "exit\n"); got != 1 {
			t.Errorf("exit requested %d times, want 1", got)
		}
	})
}

func TestTerminalTypeRE(t *testing.T) {
	m := terminalTypeRE.FindStringSubmatch("terminal type is qt 0 font \"Sans,9\"\n")
	if m == nil || m[1] != "qt" {
		t.Errorf("terminal parse = %q, want qt", m)
	}
	m = terminalTypeRE.FindStringSubmatch("Terminal type is x11 \n")
	if m == nil || m[1] != "x11" {
		t.Errorf("terminal parse = %q, want x11", m)
	}
}
