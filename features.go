// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package gnuplotlib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/creachadair/taskgroup"
)

// DefaultGnuplot is the program invoked when a session does not name a
// gnuplot binary explicitly. It is resolved through $PATH.
const DefaultGnuplot = "gnuplot"

// FeatureEqual3D marks a gnuplot that understands "set view equal", needed
// for square aspect ratios in 3-D plots. It is probed behaviorally, not from
// the option list.
const FeatureEqual3D = "equal_3d"

// A FeatureSet records the capabilities of one gnuplot installation. Values
// are the long option names the binary advertises plus behavioral markers
// like [FeatureEqual3D]. A nil FeatureSet has no features.
type FeatureSet struct {
	names mapset.Set[string]
}

// NewFeatureSet constructs a FeatureSet with the given feature names. It is
// mainly useful in tests; production code should use [Probe].
func NewFeatureSet(names ...string) *FeatureSet {
	return &FeatureSet{names: mapset.New(names...)}
}

// Has reports whether name is among the probed features.
func (fs *FeatureSet) Has(name string) bool { return fs != nil && fs.names.Has(name) }

// Equal3D reports whether the probed gnuplot supports "set view equal".
func (fs *FeatureSet) Equal3D() bool { return fs.Has(FeatureEqual3D) }

// Len returns the number of probed features.
func (fs *FeatureSet) Len() int {
	if fs == nil {
		return 0
	}
	return fs.names.Len()
}

// Names returns the probed feature names in unspecified order.
func (fs *FeatureSet) Names() []string {
	if fs == nil {
		return nil
	}
	return fs.names.Slice()
}

var (
	helpOption = regexp.MustCompile(`--([a-zA-Z0-9_]+)`)

	// What gnuplot prints when told to "set view equal" without support for
	// it. Checked case-insensitively; the wording has drifted across
	// releases.
	noEqualView = regexp.MustCompile(`(?i)(undefined variable)|(unrecognized option)`)
)

// Probe runs the given gnuplot binary to discover its capabilities: once
// with --help for the supported options, and once interpreting "set view
// equal xyz" to see whether it is understood. The two probes run
// concurrently. Probing is moderately expensive; callers holding many
// sessions should share one FeatureSet.
func Probe(ctx context.Context, gnuplot string) (*FeatureSet, error) {
	if gnuplot == "" {
		gnuplot = DefaultGnuplot
	}

	var options []string
	var equal3D bool

	g := taskgroup.New(nil)
	g.Go(func() error {
		out, err := probeOutput(ctx, gnuplot, "--help")
		if err != nil {
			return fmt.Errorf("probe %s --help: %w", gnuplot, err)
		}
		options = parseHelpOptions(out)
		return nil
	})
	g.Go(func() error {
		out, err := probeOutput(ctx, gnuplot, "-e", "set view equal xyz")
		equal3D = equalViewSupported(out, err)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fs := NewFeatureSet(options...)
	if equal3D {
		fs.names.Add(FeatureEqual3D)
	}
	return fs, nil
}

// equalViewSupported decides the [FeatureEqual3D] feature from the view
// probe's outcome. A probe that could not run at all reports the feature
// absent rather than failing the whole Probe: only the --help leg decides
// whether the binary works.
func equalViewSupported(out string, err error) bool {
	return err == nil && !noEqualView.MatchString(out)
}

// probeOutput runs gnuplot with the given arguments and returns its combined
// output. A nonzero exit is not an error: several probes work by provoking a
// diagnostic. The display is suppressed so no probe pops up a window.
func probeOutput(ctx context.Context, gnuplot string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, gnuplot, args...)
	cmd.Env = append(os.Environ(), "DISPLAY=")
	out, err := cmd.CombinedOutput()
	if err != nil {
		var ex *exec.ExitError
		if !errors.As(err, &ex) {
			return "", err
		}
	}
	return string(out), nil
}

// parseHelpOptions extracts the long option names from --help output.
func parseHelpOptions(help string) []string {
	var names []string
	seen := mapset.New[string]()
	for _, m := range helpOption.FindAllStringSubmatch(help, -1) {
		name := strings.ToLower(m[1])
		if !seen.Has(name) {
			seen.Add(name)
			names = append(names, name)
		}
	}
	return names
}

var defaultFeatures = sync.OnceValues(func() (*FeatureSet, error) {
	return Probe(context.Background(), DefaultGnuplot)
})

// DefaultFeatures probes the gnuplot found on $PATH, once per process, and
// returns the cached result thereafter.
func DefaultFeatures() (*FeatureSet, error) { return defaultFeatures() }
