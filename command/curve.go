// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package command

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// An Array is one data column of a curve: either a flat vector of values or
// a 2-D grid (for curves plotted over an implicit grid domain). The zero
// Array is an empty vector.
type Array struct {
	rows, cols int
	data       []float64
}

// Vector returns a flat data column holding the given values. The slice is
// not copied; the caller must not modify it while the Array is in use.
func Vector(data []float64) Array { return Array{cols: len(data), data: data} }

// Grid returns a rows-by-cols data column in row-major order. It panics if
// the dimensions do not match the data length; that is a programming error,
// not a plot-option error.
func Grid(rows, cols int, data []float64) Array {
	if rows < 1 || cols < 1 || rows*cols != len(data) {
		panic(fmt.Sprintf("grid dimensions (%d,%d) do not fit %d values", rows, cols, len(data)))
	}
	return Array{rows: rows, cols: cols, data: data}
}

// IsGrid reports whether the column carries 2-D grid data.
func (a Array) IsGrid() bool { return a.rows > 0 }

// Len returns the total number of values in the column.
func (a Array) Len() int { return len(a.data) }

// A Curve describes one dataset to render. Data columns must already be
// fully resolved: this package performs no broadcasting or reshaping.
type Curve struct {
	// Data holds the data columns. A curve needs TupleSize columns; if it
	// is short by exactly one, a sequential 0-based index column is
	// synthesized, and if short by exactly two, the curve is plotted over
	// an implicit 2-D grid domain and the columns must be grids.
	Data []Array

	// TupleSize is the number of values per plotted point. Zero selects
	// the default: 2 for 2-D plots, 3 for 3-D plots.
	TupleSize int

	// Matrix marks the trailing two tuple positions as an implicit grid
	// domain. It is normally derived from the column shortfall, but may be
	// set explicitly; then exactly TupleSize-2 grid columns are required.
	Matrix bool

	Legend    string  // legend label; empty plots the curve without one
	With      string  // gnuplot style; empty uses the subplot default
	Y2        bool    // plot against the secondary y axis (2-D only)
	Using     string  // verbatim override of the column-selection clause
	Histogram string  // histogram smoothing type ("freq", "cumulative", ...)
	BinWidth  float64 // histogram bin width; zero means the default of 1
}

/// labelsStyle matches styles that force ASCII data transfer: gnuplot reads
// label text inline with the coordinates.
var labelsStyle = regexp.MustCompile(`(?i)^\s*labels\b`)

// histState accumulates the histogram settings shared by all curves of one
// subplot. gnuplot supports only a single bin width per plot.
type histState struct {
	used  bool
	set   bool
	width float64
}

// A resolved is a curve after validation, defaulting, and implicit-domain
// synthesis. Everything the draw command and the data stream need is here.
type resolved struct {
	cols      []Array
	tupleSize int
	matrix    bool
	ascii     bool
	legend    string
	with      string
	y2        bool
	using     string
	histogram bool
}

// resolve validates one curve against the subplot it belongs to and fills
// in defaults and implicit domains. It returns nil (and no error) for a
// curve whose columns are all empty; such curves are dropped. index is the
// 1-based curve position, used in error reports.
func (c *Curve) resolve(index int, sp *Subplot, cfg Config, hist *histState) (*resolved, error) {
	r := &resolved{
		tupleSize: c.TupleSize,
		matrix:    c.Matrix,
		legend:    c.Legend,
		with:      c.With,
		y2:        c.Y2,
		using:     c.Using,
	}
	if r.with == "" {
		r.with = sp.style()
	}

	if c.Histogram != "" {
		if sp.ThreeD {
			return nil, curveError(index, "histograms do not make sense in 3-D")
		}
		if c.TupleSize > 1 {
			return nil, curveError(index, "histograms require tuplesize=1, not %d", c.TupleSize)
		}
		if c.Using != "" {
			return nil, curveError(index, "'using' cannot be combined with a histogram")
		}
		r.tupleSize = 1
		r.histogram = true
		r.using = "(histbin($1)):(1.0) smooth " + c.Histogram

		if c.With == "" {
			if strings.HasPrefix(c.Histogram, "freq") || strings.HasPrefix(c.Histogram, "fnorm") {
				r.with = "boxes fill solid border lt -1"
			} else {
				r.with = "lines"
			}
		}

		hist.used = true
		if c.BinWidth != 0 {
			if hist.set && hist.width != c.BinWidth {
				return nil, curveError(index, "histogram bin widths must all match: got %v and %v", hist.width, c.BinWidth)
			}
			hist.width, hist.set = c.BinWidth, true
		}
	} else if c.BinWidth != 0 {
		return nil, curveError(index, "binwidth only makes sense with a histogram")
	}

	if r.tupleSize < 1 {
		if sp.ThreeD {
			r.tupleSize = 3
		} else {
			r.tupleSize = 2
		}
	}

	// Drop curves whose columns are all empty; reject a mix of empty and
	// non-empty columns, which is always a caller bug.
	nempty := 0
	for _, col := range c.Data {
		if col.Len() == 0 {
			nempty++
		}
	}
	if len(c.Data) == 0 || nempty == len(c.Data) {
		return nil, nil
	}
	if nempty > 0 {
		return nil, curveError(index, "some but not all data columns are empty")
	}

	r.cols = append([]Array(nil), c.Data...)

	if r.matrix {
		if len(r.cols) != r.tupleSize-2 {
			return nil, curveError(index, "matrix curve needs exactly %d data columns, got %d",
				r.tupleSize-2, len(r.cols))
		}
	} else {
		switch n := len(r.cols); {
		case n > r.tupleSize:
			return nil, curveError(index, "got %d data columns, but the tuplesize is %d", n, r.tupleSize)
		case n == r.tupleSize:
			// fully specified
		case n == r.tupleSize-1:
			// One column short: synthesize a sequential domain.
			seq := make([]float64, r.cols[0].cols)
			for i := range seq {
				seq[i] = float64(i)
			}
			r.cols = append([]Array{Vector(seq)}, r.cols...)
		case n == r.tupleSize-2:
			r.matrix = true
		default:
			return nil, curveError(index, "needed %d data columns, but only got %d", r.tupleSize, n)
		}
	}

	r.ascii = cfg.ASCII || labelsStyle.MatchString(r.with)

	if r.matrix {
		if r.ascii && r.tupleSize > 3 {
			return nil, curveError(index,
				"ASCII transfer cannot plot more than 3 values per point on an implicit grid domain; use binary data or an explicit domain")
		}
		for i, col := range r.cols {
			if !col.IsGrid() {
				return nil, curveError(index, "implicit 2-D domain needs grid data, but column %d is flat", i+1)
			}
			if col.rows != r.cols[0].rows || col.cols != r.cols[0].cols {
				return nil, curveError(index, "mismatched grid dimensions: (%d,%d) vs (%d,%d)",
					r.cols[0].rows, r.cols[0].cols, col.rows, col.cols)
			}
		}
	} else {
		for i, col := range r.cols {
			if col.IsGrid() {
				return nil, curveError(index, "column %d is a grid, but the curve has an explicit domain", i+1)
			}
			if col.cols != r.cols[0].cols {
				return nil, curveError(index, "mismatched column lengths: %d vs %d", r.cols[0].cols, col.cols)
			}
		}
	}
	return r, nil
}

/// options renders the per-curve clauses of a plot element: legend, style,
// and axis selection.
func (r *resolved) options() string {
	var sb strings.Builder
	if r.legend != "" {
		fmt.Fprintf(&sb, "title %q ", r.legend)
	} else {
		sb.WriteString("notitle ")
	}
	if r.with != "" {
		fmt.Fprintf(&sb, "with %s ", r.with)
	}
	if r.y2 {
		sb.WriteString("axes x1y2 ")
	}
	return strings.TrimRight(sb.String(), " ")
}

// usingClause returns the column-selection clause, honoring an explicit
// override. gnuplot has implicit-tuple logic that misfires on fancy plots,
// so the default names every transferred column explicitly.
func (r *resolved) usingClause(ncols int) string {
	if r.using != "" {
		return r.using
	}
	parts := make([]string, ncols)
	for i := range parts {
		parts[i] = strconv.Itoa(i + 1)
	}
	return strings.Join(parts, ":")
}

// records returns the number of data records (points, or grid cells per
// channel for matrix curves).
func (r *resolved) records() int {
	if r.matrix {
		return r.cols[0].rows * r.cols[0].cols
	}
	return r.cols[0].cols
}

// CurveData is one curve's fully resolved data stream, ready to follow its
// draw command on the wire.
type CurveData struct{ r *resolved }

// ASCII reports whether the stream uses the line-oriented ASCII grammar
// (with an explicit end marker) rather than pre-sized binary blocks.
func (c CurveData) ASCII() bool { return c.r.ascii }

// Size returns the exact number of bytes WriteTo will produce.
func (c CurveData) Size() int64 {
	if !c.r.ascii {
		return int64(8 * c.r.records() * len(c.r.cols))
	}
	var n countWriter
	c.WriteTo(&n) // cannot fail on a countWriter
	return int64(n)
}

type countWriter int64

func (c *countWriter) Write(p []byte) (int, error) { *c += countWriter(len(p)); return len(p), nil }

// WriteTo streams the curve data to w in the on-wire form declared by the
// compiled draw command. It satisfies io.WriterTo.
func (c CurveData) WriteTo(w io.Writer) (int64, error) {
	r := c.r
	if r.ascii {
		return c.writeASCII(w)
	}

	// Binary: native-endian float64, one record at a time with the columns
	// interleaved. For matrix curves the records run row-major over the
	// grid with the value channels interleaved per cell.
	buf := make([]byte, 0, 8*len(r.cols))
	var total int64
	for i := 0; i < r.records(); i++ {
		buf = buf[:0]
		for _, col := range r.cols {
			buf = binary.NativeEndian.AppendUint64(buf, math.Float64bits(col.data[i]))
		}
		n, err := w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (c CurveData) writeASCII(w io.Writer) (int64, error) {
	r := c.r
	var sb strings.Builder
	if r.matrix {
		// Each value channel's grid in turn, then a blank line and the end
		// marker.
		for _, col := range r.cols {
			for row := 0; row < col.rows; row++ {
				for j := 0; j < col.cols; j++ {
					if j > 0 {
						sb.WriteByte(' ')
					}
					sb.WriteString(formatValue(col.data[row*col.cols+j]))
				}
				sb.WriteByte('\n')
			}
		}
		sb.WriteString("\ne\n")
	} else {
		for i := 0; i < r.cols[0].cols; i++ {
			for j, col := range r.cols {
				if j > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(formatValue(col.data[i]))
			}
			sb.WriteByte('\n')
		}
		sb.WriteString("e\n")
	}
	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

func formatValue(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
