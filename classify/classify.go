// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package classify distinguishes the three kinds of diagnostic text a
// gnuplot process writes to its error stream: advisory warnings, the
// known-benign artifacts of test plotting, and everything else, which is
// treated as real error text.
//
// gnuplot has no structured error channel over its standard streams, so all
// classification is lexical. The patterns here were observed against one
// gnuplot lineage and will drift across versions; they are data, not code.
// Callers that need to track a different gnuplot can extend a [Table] in
// code or load a replacement from YAML with [Load].
package classify

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// A Table holds the compiled classification patterns for one gnuplot
// lineage. A Table is immutable after construction and safe for concurrent
// use.
type Table struct {
	warning *regexp.Regexp
	benign  []*regexp.Regexp
}

// A Result is the classified form of one checkpoint interval's raw
// diagnostic text.
type Result struct {
	// Err is the surviving error text after warnings (and, in test mode,
	// benign artifacts) are removed. Empty means the preceding command
	// succeeded.
	Err string

	// Warnings holds the advisory lines, in stream order.
	Warnings []string
}

// Classify splits raw diagnostic text into error text and warnings.
// If ignoreBenign is true, the known test-phase artifact patterns are
// removed before the remainder is reported as error text; this mode is only
// appropriate while a minimal test plot is being evaluated, since it would
// mask genuine failures that happen to match.
func (t *Table) Classify(raw string, ignoreBenign bool) Result {
	var res Result
	for _, m := range t.warning.FindAllStringSubmatch(raw, -1) {
		res.Warnings = append(res.Warnings, m[1])
	}

	if ignoreBenign {
		for _, re := range t.benign {
			raw = re.ReplaceAllString(raw, "")
		}
	}

	// Strip the warning lines only after the benign patterns have run: some
	// benign patterns span lines that the warning pattern also matches
	// ("all points undefined"), and removing those lines first would leave
	// the multi-line artifact unrecognizable.
	raw = t.warning.ReplaceAllString(raw, "")

	res.Err = strings.TrimSpace(raw)
	return res
}

// IsWarning reports whether line matches the advisory pattern.
func (t *Table) IsWarning(line string) bool { return t.warning.MatchString(line) }

// testDataUnit is the numeric literal used as ASCII test-plot filler. The
// first benign pattern must recognize it when gnuplot misreads a filler row
// as a command.
const testDataUnit = "10"

// Default returns the table for the gnuplot versions this package was
// developed against.
//
// The benign entries cover, in order: filler data misread as a command
// after a failed test plot; "range is invalid" and "all points undefined"
// from deliberately out-of-range test data; range-collapse complaints;
// canvas-size complaints from oversized labels on the tiny test terminal;
// and the minimum-grid complaint from image plots tested with a 2x2 grid.
func Default() *Table {
	return &Table{
		warning: regexp.MustCompile(`(?im)^[ \t]*(.*?(?:warning|undefined).*?)[ \t]*$`),
		benign: []*regexp.Regexp{
			regexp.MustCompile(`(?m)^gnuplot>\s*(?:` + testDataUnit + `|e\b).*\n[ \t]+\^[ \t]*\n.*invalid\s+command.*$`),
			regexp.MustCompile(`(?m)^gnuplot>\s*plot.*\n[ \t]+\^[ \t]*\n.*range\s*is\s*invalid.*$`),
			regexp.MustCompile(`(?m)^gnuplot>\s*plot.*\n[ \t]+\^[ \t]*\n.*all\s*points.*undefined.*$`),
			regexp.MustCompile(`(?m)^.*_min should not equal .*_max!.*$`),
			regexp.MustCompile(`(?m)^.*too small to hold plot.*$`),
			regexp.MustCompile(`(?m)^.*Check plot boundary.*$`),
			regexp.MustCompile(`(?m)^.*Image grid must be at least.*$`),
		},
	}
}

// A tableSpec is the YAML wire form of a Table.
type tableSpec struct {
	Warning string   `yaml:"warning"`
	Benign  []string `yaml:"benign"`
}

// Load reads a YAML table definition from r and compiles it. The document
// has two keys: "warning", a single pattern whose first capture group is
// the advisory text of a matching line, and "benign", a list of patterns
// for known test-phase artifacts.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	var spec tableSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse table: %w", err)
	}
	if spec.Warning == "" {
		return nil, fmt.Errorf("parse table: missing warning pattern")
	}
	w, err := regexp.Compile(spec.Warning)
	if err != nil {
		return nil, fmt.Errorf("warning pattern: %w", err)
	} else if w.NumSubexp() < 1 {
		return nil, fmt.Errorf("warning pattern %q has no capture group", spec.Warning)
	}
	t := &Table{warning: w}
	for _, pat := range spec.Benign {
		re, err := regexp.Compile(pat)
		if err != nil {
			return nil, fmt.Errorf("benign pattern %q: %w", pat, err)
		}
		t.benign = append(t.benign, re)
	}
	return t, nil
}
