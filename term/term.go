// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package term defines the static knowledge this module carries about
// gnuplot terminals: which terminal types are interactive, and which
// terminal settings to infer from an output filename when the caller does
// not choose one.
//
// The tables are deterministic: the same inputs always produce the same
// terminal strings, so compiled plots are reproducible.
package term

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SelfPlotting is the pseudo-terminal name that selects a self-plotting
// gnuplot script instead of a rendering backend. Writing an output file
// with the ".gp" suffix selects it implicitly.
const SelfPlotting = "gp"

// interactive is the set of terminal types known to open a display window.
// A terminal not listed here may still be interactive; these are only the
// ones we can be sure about.
var interactive = map[string]bool{
	"x11":      true,
	"wxt":      true,
	"qt":       true,
	"aquaterm": true,
}

// bySuffix maps an output-file suffix to a complete terminal setting with
// reasonable defaults for that format.
var bySuffix = map[string]string{
	"eps": "postscript noenhanced solid color eps",
	"ps":  "postscript noenhanced solid color landscape 12",
	"pdf": `pdfcairo noenhanced solid color font ",12" size 8in,6in`,
	"png": `pngcairo noenhanced size 1024,768 transparent crop font ",12"`,
	"svg": `svg noenhanced solid dynamic size 800,600 font ",14"`,
	"gp":  SelfPlotting,
}

// Type returns the terminal type of a full terminal setting: its first
// word. Everything after the first word is options.
func Type(terminal string) string {
	if i := strings.IndexAny(terminal, " \t"); i >= 0 {
		return terminal[:i]
	}
	return terminal
}

// IsInteractive reports whether the terminal setting names a terminal type
// known to be interactive.
func IsInteractive(terminal string) bool { return interactive[Type(terminal)] }

// Infer returns the terminal setting implied by the suffix of the output
// filename. It reports an error for suffixes with no known terminal; such
// outputs need an explicit terminal choice from the caller.
func Infer(output string) (string, error) {
	suffix := strings.ToLower(strings.TrimPrefix(filepath.Ext(output), "."))
	if t, ok := bySuffix[suffix]; ok && suffix != "" {
		return t, nil
	}
	return "", fmt.Errorf("no terminal known for output %q: pass a terminal setting", output)
}
