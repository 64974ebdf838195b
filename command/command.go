// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package command compiles a structured plot request into the gnuplot
// command grammar: an ordered list of setup commands, a composite draw
// command, and a matching minimal "test" draw command with a synthetic
// payload sized to exercise the command without the real data.
//
// Compilation is pure: the same request always produces byte-identical
// output, and every validation failure is reported before a single byte
// would reach the plotting process.
package command

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// An OptionError reports a plot request rejected during compilation. No
// command has been sent to gnuplot when one is returned.
type OptionError struct {
	Curve  int    // 1-based index of the offending curve; 0 for plot-level options
	Reason string
}

func (e *OptionError) Error() string {
	if e.Curve > 0 {
		return fmt.Sprintf("curve %d: %s", e.Curve, e.Reason)
	}
	return e.Reason
}

func plotError(msg string, args ...any) error {
	return &OptionError{Reason: fmt.Sprintf(msg, args...)}
}

func curveError(index int, msg string, args ...any) error {
	return &OptionError{Curve: index, Reason: fmt.Sprintf(msg, args...)}
}

// A Bound is one optional axis limit. The zero Bound leaves the limit
// unset, letting gnuplot autoscale that side.
type Bound struct {
	set   bool
	value float64
}

// At returns a set Bound with the given value.
func At(v float64) Bound { return Bound{set: true, value: v} }

// IsSet reports whether the bound carries a value.
func (b Bound) IsSet() bool { return b.set }

// Value returns the bound's value; it is meaningful only if IsSet.
func (b Bound) Value() float64 { return b.value }

func (b Bound) render() string {
	if !b.set {
		return "*"
	}
	return formatValue(b.value)
}

// An Axis holds the extent options of one plot axis. Min/Max and Range are
// mutually exclusive ways to bound it. Axes with no options set are left
// completely untouched, preserving gnuplot's prior state.
type Axis struct {
	Min, Max Bound
	Range    string // "lo:hi"; either side may be "*" or empty for unset
	Invert   bool   // reverse the axis direction
	Label    string
}

func (a *Axis) empty() bool {
	return !a.Min.IsSet() && !a.Max.IsSet() && a.Range == "" && !a.Invert && a.Label == ""
}

// A Subplot gathers the options of one plot (or of one pane in a
// multiplot).
type Subplot struct {
	Title  string
	ThreeD bool

	// With is the default style for curves that do not choose their own.
	// Empty means "linespoints".
	With string

	// Set, Unset, and Cmds contribute extra setup commands, in that order
	// relative to each other: one "set X"/"unset X" per entry, and Cmds
	// passed through verbatim after everything else.
	Set, Unset, Cmds []string

	X, Y, Y2, Z, CB Axis

	// Square requests a square aspect ratio; SquareXY the same but scaling
	// z freely (meaningful only in 3-D, where it needs the "set view
	// equal" feature). At most one may be set.
	Square, SquareXY bool

	// RGBImage names an image file to render underneath the data. Unless
	// the y axis is configured explicitly, the y range is flipped so image
	// pixel coordinates look right.
	RGBImage string

	// Equations and EquationsAbove are formula strings plotted verbatim
	// before and after the data curves respectively.
	Equations, EquationsAbove []string
}

func (sp *Subplot) style() string {
	if sp.With == "" {
		return "linespoints"
	}
	return sp.With
}

// Config carries the process-level facts the compiler needs.
type Config struct {
	// ASCII selects line-oriented ASCII data transfer for every curve.
	// Binary is the default; some styles ("with labels") force ASCII
	// per curve regardless.
	ASCII bool

	// Equal3D reports that the running gnuplot understands
	// "set view equal", required for square aspect ratios in 3-D.
	Equal3D bool
}

// A Program is one compiled plot request.
type Program struct {
	// Setup holds the setup commands, to be sent one at a time, each
	// checkpointed individually.
	Setup []string

	// Draw is the composite draw command for the real data, and DrawTest
	// its minimal twin: the same command shape over the smallest legal
	// payload (one record, or a 2x2 grid).
	Draw     string
	DrawTest string

	// TestData is the synthetic payload for DrawTest. For binary curves
	// its length equals the payload size DrawTest declares.
	TestData []byte

	// Warnings are advisory compilation notes (for example a degraded
	// aspect-ratio request); they never abort the plot.
	Warnings []string

	// Curves holds the data streams to send after Draw, in order.
	Curves []CurveData
}

var rangeSetRE = map[string]*regexp.Regexp{}

func init() {
	for _, axis := range axisNames {
		rangeSetRE[axis] = regexp.MustCompile(`^ *set +` + axis + `range[\s=]`)
	}
}

var axisNames = []string{"x", "y", "y2", "z", "cb"}

// Compile translates a plot request into its gnuplot command sequence.
func Compile(sp *Subplot, curves []*Curve, cfg Config) (*Program, error) {
	prog := &Program{}
	if err := compileSetup(prog, sp, cfg); err != nil {
		return nil, err
	}

	hist := &histState{}
	rcs := make([]*resolved, 0, len(curves))
	for i, c := range curves {
		rc, err := c.resolve(i+1, sp, cfg, hist)
		if err != nil {
			return nil, err
		}
		if rc != nil {
			rcs = append(rcs, rc)
		}
	}

	if err := compileDraw(prog, sp, rcs, hist); err != nil {
		return nil, err
	}
	return prog, nil
}

// compileSetup renders the subplot options into setup commands.
func compileSetup(prog *Program, sp *Subplot, cfg Config) error {
	square, squareXY := sp.Square, sp.SquareXY
	if square && squareXY {
		return plotError("at most one square-aspect option may be enabled")
	}
	if sp.ThreeD {
		if sp.Y2.Min.IsSet() || sp.Y2.Max.IsSet() || sp.Y2.Range != "" {
			return plotError("a 3-D plot has no y2 axis")
		}
		if (square || squareXY) && !cfg.Equal3D {
			prog.Warnings = append(prog.Warnings,
				"this gnuplot does not support square aspect ratios for 3-D plots; ignoring the request")
			square, squareXY = false, false
		}
	} else if squareXY {
		// In 2-D the distinction is meaningless.
		square, squareXY = true, false
	}

	cmds := []string{"set grid"}
	for _, s := range sp.Set {
		cmds = append(cmds, "set "+s)
	}
	for _, s := range sp.Unset {
		cmds = append(cmds, "unset "+s)
	}

	axes := []*Axis{&sp.X, &sp.Y, &sp.Y2, &sp.Z, &sp.CB}
	for i, axis := range axes {
		name := axisNames[i]

		if axis.Label != "" {
			cmds = append(cmds, fmt.Sprintf("set %slabel %q", name, axis.Label))
		}

		// The caller already configured this axis through Set; leave it be.
		if hasRangeCommand(cmds, name) {
			continue
		}

		// Images put the origin at the top left, so given no explicit y
		// configuration, flip the y axis under an image.
		if sp.RGBImage != "" && name == "y" && axis.Range == "" &&
			!axis.Min.IsSet() && !axis.Max.IsSet() && !axis.Invert {
			cmds = append(cmds, "set yrange [:] reverse")
			continue
		}

		cmd, err := rangeCommand(name, axis)
		if err != nil {
			return err
		}
		if cmd != "" {
			cmds = append(cmds, cmd)
		}
	}

	if sp.Title != "" {
		cmds = append(cmds, fmt.Sprintf("set title %q", sp.Title))
	}

	// gnuplot has distinct grammar for square aspect ratios in 2-D and 3-D.
	if sp.ThreeD {
		if square {
			cmds = append(cmds, "set view equal xyz")
		} else if squareXY {
			cmds = append(cmds, "set view equal xy")
		}
	} else if square {
		cmds = append(cmds, "set size ratio -1")
	}

	cmds = append(cmds, sp.Cmds...)
	prog.Setup = cmds
	return nil
}

func hasRangeCommand(cmds []string, axis string) bool {
	re := rangeSetRE[axis]
	for _, c := range cmds {
		if re.MatchString(c) {
			return true
		}
	}
	return false
}

// rangeCommand renders the extent options of one axis, or "" if the axis
// should not be touched. An explicit min > max already encodes an inverted
// axis; when an inversion is requested together with both bounds, the
// bounds are swapped instead and the redundant reverse flag suppressed.
func rangeCommand(name string, axis *Axis) (string, error) {
	min, max := axis.Min, axis.Max

	if axis.Range != "" {
		if min.IsSet() || max.IsSet() {
			return "", plotError("%smin/%smax and %srange are mutually exclusive", name, name, name)
		}
		parts := strings.Split(axis.Range, ":")
		if len(parts) != 2 {
			return "", plotError("%srange %q should have exactly 2 elements", name, axis.Range)
		}
		for i, p := range parts {
			p = strings.TrimSpace(p)
			if p == "" || p == "*" {
				continue
			}
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return "", plotError("%srange %q: bad bound %q", name, axis.Range, p)
			}
			if i == 0 {
				min = At(v)
			} else {
				max = At(v)
			}
		}
	}

	if !min.IsSet() && !max.IsSet() && !axis.Invert {
		return "", nil
	}

	reverse := "noreverse"
	if axis.Invert {
		if min.IsSet() && max.IsSet() && min.Value() < max.Value() {
			min, max = max, min
		} else {
			reverse = "reverse"
		}
	}
	return fmt.Sprintf("set %srange [%s:%s] %s", name, min.render(), max.render(), reverse), nil
}

// compileDraw builds the draw command, its minimal test twin, and the
// synthetic test payload.
func compileDraw(prog *Program, sp *Subplot, rcs []*resolved, hist *histState) error {
	var base strings.Builder

	anyY2 := false
	for _, rc := range rcs {
		anyY2 = anyY2 || rc.y2
	}
	if anyY2 {
		if sp.ThreeD {
			return plotError("3-D plots have no y2 axis")
		}
		base.WriteString("set ytics nomirror\nset y2tics\n")
	}

	if hist.used {
		w := hist.width
		if !hist.set {
			w = 1
		}
		ws := formatValue(w)
		fmt.Fprintf(&base, "set boxwidth %s\nhistbin(x) = %s * floor(0.5 + x/%s)\n", ws, ws, ws)
	}

	if sp.ThreeD {
		base.WriteString("splot ")
	} else {
		base.WriteString("plot ")
	}

	var before, after []string
	before = append(before, sp.Equations...)
	if sp.RGBImage != "" {
		fi, err := os.Stat(sp.RGBImage)
		if err != nil || !fi.Mode().IsRegular() {
			return plotError("image %q is not a readable file", sp.RGBImage)
		}
		before = append(before,
			fmt.Sprintf("%[1]q binary filetype=auto flipy with rgbimage title %[1]q", sp.RGBImage))
	}
	after = append(after, sp.EquationsAbove...)

	var full, minimal []string
	var testData strings.Builder

	for _, rc := range rcs {
		opts := rc.options()

		if rc.ascii {
			clause := "'-'"
			if rc.matrix {
				clause += " matrix"
			}
			clause += " using " + rc.usingClause(rc.tupleSize) + " " + opts

			// ASCII records carry their own terminator, so the test
			// command is the real command; only the data is minimal.
			full = append(full, clause)
			minimal = append(minimal, clause)
			testData.WriteString(asciiTestData(rc))
			continue
		}

		nchan := rc.tupleSize
		if rc.matrix {
			nchan -= 2
		}
		format := ` format="` + strings.Repeat("%double", nchan) + `"`
		using := " using " + rc.usingClause(nchan) + " "

		var framing, framingTest string
		if rc.matrix {
			framing = fmt.Sprintf("binary array=(%d,%d)", rc.cols[0].cols, rc.cols[0].rows)
			framingTest = "binary array=(2, 2)"
		} else {
			framing = fmt.Sprintf("binary record=%d", rc.cols[0].cols)
			framingTest = "binary record=1"
		}
		full = append(full, "'-' "+framing+format+using+opts)
		minimal = append(minimal, "'-' "+framingTest+format+using+opts)

		// Filler exactly as long as the payload the test command declares.
		// The bytes are never looked at as a plot; if the command is wrong
		// they surface as benign "invalid command" noise instead of
		// leaving gnuplot waiting for data that will never come.
		testData.WriteString(strings.Repeat(" \n", testPayloadLen(rc)/2))
	}

	elems := func(mid []string) string {
		all := make([]string, 0, len(before)+len(mid)+len(after))
		all = append(all, before...)
		all = append(all, mid...)
		all = append(all, after...)
		return strings.Join(all, ",")
	}
	prog.Draw = base.String() + elems(full)
	prog.DrawTest = base.String() + elems(minimal)
	prog.TestData = []byte(testData.String())
	for _, rc := range rcs {
		prog.Curves = append(prog.Curves, CurveData{r: rc})
	}
	return nil
}

// testPayloadLen returns the byte count the minimal binary draw command
// declares: one float64 record, or one 2x2 grid per value channel.
func testPayloadLen(rc *resolved) int {
	if rc.matrix {
		return 8 * 2 * 2 * (rc.tupleSize - 2)
	}
	return 8 * rc.tupleSize
}

// asciiTestUnit is the value used for ASCII test records. It is also what
// the benign-artifact classifier expects to see when gnuplot misreads a
// filler row as a command.
const asciiTestUnit = "10"

func asciiTestData(rc *resolved) string {
	if rc.matrix {
		grid := asciiTestUnit + " " + asciiTestUnit + "\n"
		return strings.Repeat(grid+grid+"\ne\n", rc.tupleSize-2)
	}
	row := make([]string, rc.tupleSize)
	for i := range row {
		row[i] = asciiTestUnit
	}
	return strings.Join(row, " ") + "\ne\n"
}
