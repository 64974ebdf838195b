// Program gplot plots numeric columns from files or stdin with gnuplot.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/creachadair/command"
	"github.com/creachadair/flax"
	"github.com/dkogan/gnuplotlib"
	gcommand "github.com/dkogan/gnuplotlib/command"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var flags struct {
	Gnuplot  string `flag:"gnuplot,Path of the gnuplot binary to run"`
	Terminal string `flag:"terminal,Gnuplot terminal to render on (with options)"`
	Output   string `flag:"output,Write the plot to this file instead of the screen"`
	Title    string `flag:"title,Plot title"`
	With     string `flag:"with,Default curve style (default linespoints)"`
	ThreeD   bool   `flag:"3d,Plot in 3-D (columns are x y z1 z2 ...)"`
	Domain   bool   `flag:"domain,Treat the first column as the domain"`
	XLabel   string `flag:"xlabel,Label of the x axis"`
	YLabel   string `flag:"ylabel,Label of the y axis"`
	XRange   string `flag:"xrange,Range of the x axis as 'lo:hi'"`
	YRange   string `flag:"yrange,Range of the y axis as 'lo:hi'"`
	ASCII    bool   `flag:"ascii,Transfer plot data in ASCII instead of binary"`
	Dump     bool   `flag:"dump,Write the gnuplot command stream to stdout instead of plotting"`
	NoTest   bool   `flag:"notest,Skip the dry run that validates the plot command"`
	Wait     bool   `flag:"wait,Wait until the plot window is closed"`
}

func main() {
	root := &command.C{
		Name:  filepath.Base(os.Args[0]),
		Usage: "[options] [file...]\nhelp",
		Help: `Plot numeric columns with gnuplot.

Input is whitespace-separated numeric columns, read from the named files or
from stdin. Each column becomes one curve. With --domain the first column is
the shared x coordinate of the remaining columns; with --3d the first two
columns are the x and y coordinates of the remaining columns.

With no --terminal and no --output, the plot opens in an interactive window
when stdout is a terminal and renders as text otherwise. An --output file
picks its terminal from the filename suffix (.eps, .ps, .pdf, .png, .svg);
an output of NAME.gp is written as a self-plotting gnuplot script.`,
		SetFlags: command.Flags(flax.MustBind, &flags),
		Run:      runPlot,
		Commands: []*command.C{
			{
				Name: "probe",
				Help: "Print the features advertised by the gnuplot binary.",
				Run:  runProbe,
			},
			command.VersionCommand(),
			command.HelpCommand(nil),
		},
	}
	command.RunOrFail(root.NewEnv(nil).MergeFlags(true), os.Args[1:])
}

func runPlot(env *command.Env) error {
	cols, err := readColumns(env.Args)
	if err != nil {
		return err
	}
	curves, err := makeCurves(cols)
	if err != nil {
		return err
	}

	opts := gnuplotlib.Options{
		GnuplotPath: flags.Gnuplot,
		Terminal:    flags.Terminal,
		Output:      flags.Output,
		ASCII:       flags.ASCII,
		NoTest:      flags.NoTest,
		Wait:        flags.Wait,
		OnWarning:   printWarning,
	}
	if opts.Terminal == "" && opts.Output == "" && !isatty.IsTerminal(os.Stdout.Fd()) {
		// Piped output gets a text rendering rather than a window.
		opts.Terminal = "dumb"
	}
	if flags.Dump {
		opts.Dump = os.Stdout
	}

	p, err := gnuplotlib.New(opts)
	if err != nil {
		return err
	}
	defer p.Close()

	sp := &gcommand.Subplot{
		Title:  flags.Title,
		ThreeD: flags.ThreeD,
		With:   flags.With,
		X:      gcommand.Axis{Label: flags.XLabel, Range: flags.XRange},
		Y:      gcommand.Axis{Label: flags.YLabel, Range: flags.YRange},
	}
	return p.Plot(sp, curves...)
}

func runProbe(env *command.Env) error {
	fs, err := gnuplotlib.Probe(context.Background(), flags.Gnuplot)
	if err != nil {
		return err
	}
	names := fs.Names()
	sort.Strings(names)
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

var warnColor = color.New(color.FgYellow)

func printWarning(msg string) {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		warnColor.Fprintf(os.Stderr, "gnuplot warns: %s\n", msg)
	} else {
		fmt.Fprintf(os.Stderr, "gnuplot warns: %s\n", msg)
	}
}

// readColumns reads whitespace-separated numeric columns from the named
// files, or from stdin if none are named. All rows must have the same
// number of fields.
func readColumns(paths []string) ([][]float64, error) {
	var cols [][]float64

	scan := func(name string, r io.Reader) error {
		sc := bufio.NewScanner(r)
		lineno := 0
		for sc.Scan() {
			lineno++
			fields := strings.Fields(sc.Text())
			if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
				continue
			}
			if cols == nil {
				cols = make([][]float64, len(fields))
			} else if len(fields) != len(cols) {
				return fmt.Errorf("%s:%d: got %d fields, want %d", name, lineno, len(fields), len(cols))
			}
			for i, f := range fields {
				v, err := strconv.ParseFloat(f, 64)
				if err != nil {
					return fmt.Errorf("%s:%d: invalid value %q", name, lineno, f)
				}
				cols[i] = append(cols[i], v)
			}
		}
		return sc.Err()
	}

	if len(paths) == 0 {
		if err := scan("stdin", os.Stdin); err != nil {
			return nil, err
		}
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		err = scan(path, f)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("no data to plot")
	}
	return cols, nil
}

// makeCurves splits the input columns into curves according to the domain
// flags: each value column becomes one curve over the shared domain.
func makeCurves(cols [][]float64) ([]*gcommand.Curve, error) {
	ndomain := 0
	if flags.ThreeD {
		ndomain = 2
	} else if flags.Domain {
		ndomain = 1
	}
	if len(cols) <= ndomain {
		return nil, fmt.Errorf("got %d columns; need at least %d", len(cols), ndomain+1)
	}

	domain := make([]gcommand.Array, ndomain)
	for i := range domain {
		domain[i] = gcommand.Vector(cols[i])
	}

	var curves []*gcommand.Curve
	for _, col := range cols[ndomain:] {
		data := append(append([]gcommand.Array(nil), domain...), gcommand.Vector(col))
		curves = append(curves, &gcommand.Curve{Data: data})
	}
	return curves, nil
}
