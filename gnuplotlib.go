// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package gnuplotlib

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/dkogan/gnuplotlib/classify"
	"github.com/dkogan/gnuplotlib/command"
	"github.com/dkogan/gnuplotlib/term"
)

// Options configure a [Plotter]. The zero Options plot interactively on the
// default terminal of the gnuplot found on $PATH.
type Options struct {
	// GnuplotPath, Features, Timeout, Classify, Log, and OnWarning
	// configure the underlying session; see [Config].
	GnuplotPath string
	Features    *FeatureSet
	Timeout     time.Duration
	Classify    *classify.Table
	Log         CommandLog
	OnWarning   func(string)

	// Terminal is the gnuplot terminal to plot on, with its options
	// ("pngcairo size 1024,768"). Empty uses gnuplot's default terminal,
	// unless Output implies one by its suffix.
	Terminal string

	// Output is the file to write the plot to. Empty renders interactively
	// (or to stdout, for non-interactive terminals). With an empty
	// Terminal the suffix must be one of .eps, .ps, .pdf, .png, .svg or
	// .gp; the matching terminal is selected automatically. A ".gp" output
	// is a self-plotting gnuplot script rather than an image.
	Output string

	// NoTest skips the dry run that validates each plot command against
	// the "dumb" terminal before committing it.
	NoTest bool

	// Wait blocks each interactive plot until its window is closed.
	Wait bool

	// ASCII transfers plot data in ASCII instead of binary.
	ASCII bool

	// Dump writes the generated command and data stream to this writer
	// instead of driving a gnuplot process. Useful for debugging and for
	// feeding gnuplot by hand. Dump implies NoTest: the dry run only makes
	// sense against a live process.
	Dump io.Writer

	// Set, Unset, and Cmds contribute process-level setup commands, sent
	// once per plot before everything else: one "set X"/"unset X" per
	// entry, then Cmds verbatim.
	Set, Unset, Cmds []string
}

func (o *Options) sessionConfig() Config {
	return Config{
		GnuplotPath: o.GnuplotPath,
		Features:    o.Features,
		Timeout:     o.Timeout,
		Classify:    o.Classify,
		Log:         o.Log,
		OnWarning:   o.OnWarning,
	}
}

// A Frame is one pane of a multiplot: a subplot and its curves.
type Frame struct {
	Subplot *command.Subplot
	Curves  []*command.Curve
}

// A Plotter renders plots through one gnuplot process (or, in dump and
// script modes, into a stream). It may be reused for any number of plots;
// each plot starts from a clean slate. A Plotter is not safe for concurrent
// use.
type Plotter struct {
	opts     Options
	terminal string // resolved terminal; "" uses gnuplot's default
	selfPlot bool   // write a self-plotting script instead of an image
	cfg      Config

	s    *Session
	used bool // a plot has been made; reset state before the next one
}

// New constructs a Plotter with the given options. In dump and script modes
// no process is started; otherwise the gnuplot process is launched
// immediately so that option errors surface here rather than at the first
// plot.
func New(opts Options) (*Plotter, error) {
	terminal := opts.Terminal
	if terminal == "" && opts.Output != "" {
		t, err := term.Infer(opts.Output)
		if err != nil {
			return nil, err
		}
		terminal = t
	}
	p := &Plotter{
		opts:     opts,
		terminal: terminal,
		selfPlot: term.Type(terminal) == term.SelfPlotting,
		cfg:      opts.sessionConfig(),
	}

	if term.IsInteractive(terminal) && opts.Output != "" {
		p.cfg.warn("requested a known-interactive terminal AND an output file; is this really what you want?")
	}
	if p.selfPlot && opts.Output == "" {
		return nil, fmt.Errorf("the %q terminal writes a script; it needs an output filename", term.SelfPlotting)
	}

	if opts.Dump != nil || p.selfPlot {
		if p.cfg.Features == nil {
			// No process to probe. Use the default binary's features, or
			// none if there is no gnuplot to ask.
			if fs, err := DefaultFeatures(); err == nil {
				p.cfg.Features = fs
			} else {
				p.cfg.Features = NewFeatureSet()
			}
		}
		return p, nil
	}

	s, err := StartSession(p.cfg)
	if err != nil {
		return nil, err
	}
	p.s = s
	p.cfg.Features = s.Features()
	return p, nil
}

// NewWithSession constructs a Plotter over an existing session. The caller
// remains responsible for closing the session.
func NewWithSession(opts Options, s *Session) *Plotter {
	p := &Plotter{opts: opts, terminal: opts.Terminal, cfg: opts.sessionConfig()}
	if p.cfg.Features == nil {
		p.cfg.Features = s.Features()
	}
	p.s = s
	return p
}

// Plot renders one plot of the given curves.
func (p *Plotter) Plot(sp *command.Subplot, curves ...*command.Curve) error {
	return p.run([]Frame{{Subplot: sp, Curves: curves}}, false, "")
}

// Multiplot renders the given frames as panes of a single plot. The layout
// string is passed to "set multiplot" verbatim ("layout 2,2"); it may be
// empty if the frames position themselves via their own setup commands.
func (p *Plotter) Multiplot(layout string, frames ...Frame) error {
	return p.run(frames, true, layout)
}

// Wait blocks until the currently open interactive plot window is closed.
//
// There is no reliable way to detect whether a window is actually open; if
// none is, Wait blocks until the process exits.
func (p *Plotter) Wait() error {
	if p.s == nil {
		return nil
	}
	if err := p.s.writeLine("pause mouse close"); err != nil {
		return err
	}
	_, err := p.s.sync(ckReportWarnings | ckWaitForever)
	return err
}

// Close releases the gnuplot process, if any. The Plotter must not be used
// afterward.
func (p *Plotter) Close() error {
	if p.s == nil {
		return nil
	}
	return p.s.Close()
}

func (p *Plotter) run(frames []Frame, multi bool, layout string) error {
	if len(frames) == 0 {
		return &command.OptionError{Reason: "nothing to plot"}
	}
	if !multi && len(frames) != 1 {
		panic("internal: single plot with multiple frames")
	}

	ccfg := command.Config{ASCII: p.opts.ASCII, Equal3D: p.cfg.Features.Equal3D()}
	progs := make([]*command.Program, len(frames))
	for i, f := range frames {
		prog, err := command.Compile(f.Subplot, f.Curves, ccfg)
		if err != nil {
			return err
		}
		for _, w := range prog.Warnings {
			p.cfg.warn(w)
		}
		progs[i] = prog
	}

	if p.opts.Dump != nil {
		s := NewSession(p.opts.Dump, nil, p.cfg)
		if err := p.header(s); err != nil {
			return err
		}
		return p.render(s, progs, multi, layout)
	}
	if p.selfPlot {
		return p.writeScript(progs, multi, layout)
	}

	s := p.s
	if p.used {
		// Start the reused process from a clean slate.
		if err := s.writeLine("unset multiplot\nreset\nset output"); err != nil {
			return err
		}
		if _, err := s.sync(0); err != nil {
			return err
		}
	}
	p.used = true

	if !p.opts.NoTest {
		if err := p.testPlots(s, progs, multi, layout); err != nil {
			return err
		}
	}
	if err := p.header(s); err != nil {
		return err
	}
	if err := p.render(s, progs, multi, layout); err != nil {
		return err
	}
	return p.footer(s, multi)
}

// testPlots dry-runs every compiled plot against the "dumb" terminal with
// minimal synthetic data, so that a bad plot command surfaces as an error
// here instead of leaving the real process waiting for curve data it will
// never interpret correctly.
func (p *Plotter) testPlots(s *Session, progs []*command.Program, multi bool, layout string) error {
	// Plain prints: these two must not be checkpointed individually, and
	// the output must not default to the terminal, where nobody reads it.
	if err := s.writeLine("set output '/dev/null'"); err != nil {
		return err
	}
	if err := s.writeLine("set terminal dumb"); err != nil {
		return err
	}

	if multi {
		if err := s.command(setMultiplot(layout), allowNone); err != nil {
			return err
		}
	}
	for _, prog := range progs {
		if multi {
			// Each pane starts clean; panes must not leak state into each
			// other.
			if err := s.SendCommand("reset"); err != nil {
				return err
			}
		}
		if err := p.setup(s, prog); err != nil {
			return err
		}

		if err := s.writeLine(prog.DrawTest); err != nil {
			return err
		}
		if err := s.writeData(prog.TestData); err != nil {
			return err
		}
		res, err := s.sync(ckIgnoreTestFailures)
		if err != nil {
			return err
		}
		if res.Err != "" {
			return &CommandError{Cmd: prog.DrawTest, Message: res.Err, Warnings: res.Warnings}
		}
		rootMetrics.plotsTested.Add(1)
	}
	if multi {
		if err := s.SendCommand("unset multiplot"); err != nil {
			return err
		}
	}

	// Back to the terminal saved at startup, re-saving it for next time.
	return s.command("set terminal pop; set terminal push", allowTerminal)
}

// header sends the per-plot process options: extra commands, terminal, and
// output destination.
func (p *Plotter) header(s *Session) error {
	if err := p.processCmds(s); err != nil {
		return err
	}

	if p.terminal != "" {
		if err := s.command("set terminal "+p.terminal, allowTerminal); err != nil {
			return err
		}
	}

	// The output is always set explicitly. An interactive plot gets the
	// null output; a non-interactive terminal with no output file renders
	// to the driver's stdout.
	if p.opts.Output != "" {
		return s.command(fmt.Sprintf("set output %q", p.opts.Output), allowOutput)
	}
	if p.terminal == "" || term.IsInteractive(p.terminal) {
		return s.command("set output", allowOutput)
	}
	path := s.OutputPath()
	if path == "" {
		if s.proc != nil {
			return fmt.Errorf("need to plot to stdout, but no stdout handle was passed to gnuplot")
		}
		// A dumped stream has no process to inherit a handle; the reader
		// substitutes their own destination.
		path = "/dev/fd/DUMPONLY"
	}
	return s.command(fmt.Sprintf("set output %q", path), allowOutput)
}

// processCmds sends the process-level Set/Unset/Cmds options.
func (p *Plotter) processCmds(s *Session) error {
	for _, c := range p.opts.Set {
		if err := s.SendCommand("set " + c); err != nil {
			return err
		}
	}
	for _, c := range p.opts.Unset {
		if err := s.SendCommand("unset " + c); err != nil {
			return err
		}
	}
	for _, c := range p.opts.Cmds {
		if err := s.SendCommand(c); err != nil {
			return err
		}
	}
	return nil
}

// setup sends the compiled per-subplot setup commands.
func (p *Plotter) setup(s *Session, prog *command.Program) error {
	for _, cmd := range prog.Setup {
		if err := s.SendCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}

// render sends the real draw commands and curve data. The caller has
// already sent the header.
func (p *Plotter) render(s *Session, progs []*command.Program, multi bool, layout string) error {
	if multi {
		if err := s.command(setMultiplot(layout), allowNone); err != nil {
			return err
		}
	}
	for _, prog := range progs {
		if multi {
			if err := s.SendCommand("reset"); err != nil {
				return err
			}
		}
		if err := p.setup(s, prog); err != nil {
			return err
		}
		if err := s.writeLine(prog.Draw); err != nil {
			return err
		}
		for _, cd := range prog.Curves {
			if err := s.writeDataFrom(cd); err != nil {
				return err
			}
		}
		// gnuplot 5.2 sometimes reads a few bytes past the end of inline
		// data, swallowing the start of the next command. It is allowed to
		// steal blank lines without consequence, so feed it some.
		if err := s.writeData([]byte("\n\n\n\n")); err != nil {
			return err
		}
		rootMetrics.plotsCommitted.Add(1)
	}
	// Deliberately no "unset multiplot" here: that would wipe the plot.
	return nil
}

// footer flushes and finalizes the plot on a live process.
func (p *Plotter) footer(s *Session, multi bool) error {
	// Surface any warnings the draw commands produced.
	if _, err := s.sync(ckReportWarnings); err != nil {
		return err
	}

	terminal := p.terminal
	if terminal == "" {
		terminal = s.DefaultTerminal()
	}
	// These two are only certain when the terminal is one we recognize: an
	// unrecognized terminal with no output file may or may not have opened
	// a window.
	nonInteractive := p.opts.Output != "" ||
		(p.terminal != "" && !term.IsInteractive(p.terminal))
	interactive := p.opts.Output == "" && term.IsInteractive(terminal)

	// Non-interactive terminals need to be told plotting is done before
	// they write their data out in full: svg has a closing stanza, and a
	// multiplot png writes nothing at all until then. Interactive
	// multiplots must be left alone or the window goes blank.
	if multi && !interactive {
		if err := s.SendCommand("unset multiplot"); err != nil {
			return err
		}
	}
	if !(multi && interactive) {
		if err := s.command("set output", allowOutput); err != nil {
			return err
		}
	}

	if p.opts.Wait && !nonInteractive {
		if err := p.Wait(); err != nil {
			return err
		}
	}

	// One last sync before the caller may Close the session; without it a
	// terminal like "dumb" can get killed before it renders anything.
	_, err := s.sync(ckReportWarnings)
	return err
}

// writeScript writes a self-plotting gnuplot script to the output file.
func (p *Plotter) writeScript(progs []*command.Program, multi bool, layout string) error {
	f, err := os.OpenFile(p.opts.Output, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	defer f.Close()
	// The umask may have clipped the create mode; the script must stay
	// executable.
	f.Chmod(0755)

	s := NewSession(f, nil, p.cfg)
	gnuplot := p.opts.GnuplotPath
	if gnuplot == "" {
		if found, err := exec.LookPath(DefaultGnuplot); err == nil {
			gnuplot = found
		} else {
			gnuplot = DefaultGnuplot
		}
	}
	if err := s.writeLine("#!" + gnuplot); err != nil {
		return err
	}
	if err := p.processCmds(s); err != nil {
		return err
	}
	if multi {
		if err := s.command(setMultiplot(layout), allowNone); err != nil {
			return err
		}
	}
	for _, prog := range progs {
		if multi {
			if err := s.SendCommand("reset"); err != nil {
				return err
			}
		}
		if err := p.setup(s, prog); err != nil {
			return err
		}
		if err := s.writeLine(prog.Draw); err != nil {
			return err
		}
		for _, cd := range prog.Curves {
			if err := s.writeDataFrom(cd); err != nil {
				return err
			}
		}
		if err := s.writeData([]byte("\n\n\n\n")); err != nil {
			return err
		}
	}
	// The script pauses so a double-clicked plot stays on screen.
	if err := s.writeLine("pause mouse close"); err != nil {
		return err
	}
	return f.Close()
}

func setMultiplot(layout string) string {
	if layout == "" {
		return "set multiplot"
	}
	return "set multiplot " + layout
}
