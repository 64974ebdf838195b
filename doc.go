// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package gnuplotlib drives a gnuplot subprocess to render plots.
//
// Gnuplot is controlled through a line-oriented command language on its
// standard input, and reports errors and warnings as free text on its
// standard error. This package owns both streams: it compiles structured
// plot requests into gnuplot commands, streams the curve data inline, and
// keeps the process synchronized so that errors are attributed to the
// command that caused them.
//
// # Plotters
//
// The core type defined by this package is the [Plotter]. A Plotter owns one
// gnuplot process and renders any number of plots through it:
//
//	p, err := gnuplotlib.New(gnuplotlib.Options{})
//	if err != nil {
//	   log.Fatal(err)
//	}
//	defer p.Close()
//
//	err = p.Plot(&command.Subplot{Title: "sinusoid"},
//	   &command.Curve{Data: []command.Array{command.Vector(ys)}})
//
// With no output options, the plot pops up in an interactive window on
// gnuplot's default terminal. Setting [Options.Output] writes it to a file
// instead, picking the terminal from the filename suffix; [Options.Terminal]
// overrides the choice. An output of "xyz.gp" produces a self-plotting
// gnuplot script rather than an image, and [Options.Dump] diverts the whole
// command stream to a writer for inspection without running gnuplot at all.
//
// Multiple plots can share a window as panes of a multiplot:
//
//	err = p.Multiplot("layout 2,1", frameA, frameB)
//
// # Synchronization
//
// Gnuplot does not acknowledge commands. To detect failures the driver
// plants sync points: it asks the process to print a token, then reads the
// diagnostic stream until the token comes back. Text arriving before the
// token belongs to the commands sent since the previous sync point, and is
// classified into errors, warnings, and noise by the [classify] package.
//
// A bad draw command is worse than a bad setup command: gnuplot would
// consume the curve data that follows it as command input, wedging the
// session. Before committing a plot, the driver therefore re-renders it on
// the throwaway "dumb" terminal with a minimal synthetic payload, and only
// sends the real thing once the dry run comes back clean. A process that
// stops acknowledging sync points is declared stuck; the session refuses
// further work and [Session.Close] remains the only useful call.
//
// # Curves
//
// Plot requests are built from the types of the [command] subpackage: a
// [command.Subplot] carries the per-plot options, and each [command.Curve]
// one dataset. Data columns are float64 vectors, or 2-D grids for curves
// rendered over an implicit grid domain. Data is transferred to gnuplot in
// binary by default; [Options.ASCII] selects text transfer, and styles that
// require it (such as "with labels") get it automatically.
package gnuplotlib
