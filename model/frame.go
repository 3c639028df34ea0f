package model

import (
	"fmt"
	"sort"

	"github.com/uyouii/cytometry-algorithms/common"
	"gonum.org/v1/gonum/mat"
)

// Frame is an in-memory table of events (rows) by channels (columns).
// Index keeps the original row identity of every event so samples can be
// merged back in order. Data is nil for a frame without rows.
type Frame struct {
	Columns []string
	Index   []int
	Data    *mat.Dense
}

// NewFrame builds a frame from row slices, rows are copied.
func NewFrame(columns []string, rows [][]float64) (*Frame, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: frame needs at least one column", common.ErrorInvalidValue)
	}
	f := &Frame{
		Columns: append([]string(nil), columns...),
		Index:   make([]int, len(rows)),
	}
	if len(rows) == 0 {
		return f, nil
	}
	raw := make([]float64, 0, len(rows)*len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			return nil, fmt.Errorf("%w: row %d has %d values, want %d",
				common.ErrorDimensionMismatch, i, len(row), len(columns))
		}
		raw = append(raw, row...)
		f.Index[i] = i
	}
	f.Data = mat.NewDense(len(rows), len(columns), raw)
	return f, nil
}

// NewFrameFromDense wraps data without copying it.
func NewFrameFromDense(columns []string, data *mat.Dense) (*Frame, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: frame needs at least one column", common.ErrorInvalidValue)
	}
	f := &Frame{Columns: append([]string(nil), columns...)}
	if data == nil || data.IsEmpty() {
		return f, nil
	}
	r, c := data.Dims()
	if c != len(columns) {
		return nil, fmt.Errorf("%w: %d columns named, data has %d",
			common.ErrorDimensionMismatch, len(columns), c)
	}
	f.Data = data
	f.Index = make([]int, r)
	for i := range f.Index {
		f.Index[i] = i
	}
	return f, nil
}

func (f *Frame) Rows() int {
	if f == nil || f.Data == nil {
		return 0
	}
	r, _ := f.Data.Dims()
	return r
}

func (f *Frame) Cols() int {
	return len(f.Columns)
}

func (f *Frame) IsEmpty() bool {
	return f.Rows() == 0
}

func (f *Frame) ColumnIndex(name string) (int, bool) {
	for i, c := range f.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// Column returns a copy of the named column.
func (f *Frame) Column(name string) ([]float64, error) {
	j, ok := f.ColumnIndex(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown column %q", common.ErrorInvalidValue, name)
	}
	res := make([]float64, f.Rows())
	if f.Data != nil {
		mat.Col(res, j, f.Data)
	}
	return res, nil
}

// Row returns a copy of row i.
func (f *Frame) Row(i int) []float64 {
	return append([]float64(nil), f.Data.RawRowView(i)...)
}

// Select copies the named columns into a new matrix, nil for an empty frame.
func (f *Frame) Select(features []string) (*mat.Dense, error) {
	if len(features) == 0 {
		features = f.Columns
	}
	idx := make([]int, len(features))
	for k, name := range features {
		j, ok := f.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %q", common.ErrorInvalidValue, name)
		}
		idx[k] = j
	}
	n := f.Rows()
	if n == 0 {
		return nil, nil
	}
	res := mat.NewDense(n, len(idx), nil)
	for i := 0; i < n; i++ {
		src := f.Data.RawRowView(i)
		dst := res.RawRowView(i)
		for k, j := range idx {
			dst[k] = src[j]
		}
	}
	return res, nil
}

// Subset returns the given rows, in the given order, as a new frame.
func (f *Frame) Subset(rows []int) *Frame {
	res := &Frame{
		Columns: append([]string(nil), f.Columns...),
		Index:   make([]int, len(rows)),
	}
	if len(rows) == 0 {
		return res
	}
	res.Data = mat.NewDense(len(rows), len(f.Columns), nil)
	for k, i := range rows {
		res.Index[k] = f.Index[i]
		copy(res.Data.RawRowView(k), f.Data.RawRowView(i))
	}
	return res
}

func (f *Frame) Clone() *Frame {
	res := &Frame{
		Columns: append([]string(nil), f.Columns...),
		Index:   append([]int(nil), f.Index...),
	}
	if f.Data != nil {
		res.Data = mat.DenseCopyOf(f.Data)
	}
	return res
}

// WithColumns returns a copy of the frame where each named column is set from
// the matching column of values. Existing columns are overwritten, new ones appended.
func (f *Frame) WithColumns(names []string, values mat.Matrix) (*Frame, error) {
	n := f.Rows()
	if values == nil {
		if n == 0 {
			res := f.Clone()
			for _, name := range names {
				if _, ok := res.ColumnIndex(name); !ok {
					res.Columns = append(res.Columns, name)
				}
			}
			return res, nil
		}
		return nil, fmt.Errorf("%w: no values for %d rows", common.ErrorDimensionMismatch, n)
	}
	r, c := values.Dims()
	if r != n || c != len(names) {
		return nil, fmt.Errorf("%w: values are %dx%d, want %dx%d",
			common.ErrorDimensionMismatch, r, c, n, len(names))
	}

	columns := append([]string(nil), f.Columns...)
	target := make([]int, len(names))
	for k, name := range names {
		j := -1
		for i, col := range columns {
			if col == name {
				j = i
				break
			}
		}
		if j < 0 {
			columns = append(columns, name)
			j = len(columns) - 1
		}
		target[k] = j
	}

	data := mat.NewDense(n, len(columns), nil)
	for i := 0; i < n; i++ {
		row := data.RawRowView(i)
		copy(row, f.Data.RawRowView(i))
		for k, j := range target {
			row[j] = values.At(i, k)
		}
	}
	return &Frame{
		Columns: columns,
		Index:   append([]int(nil), f.Index...),
		Data:    data,
	}, nil
}

// WithColumn is WithColumns for a single column.
func (f *Frame) WithColumn(name string, values []float64) (*Frame, error) {
	if len(values) != f.Rows() {
		return nil, fmt.Errorf("%w: %d values for %d rows",
			common.ErrorDimensionMismatch, len(values), f.Rows())
	}
	if len(values) == 0 {
		return f.WithColumns([]string{name}, nil)
	}
	return f.WithColumns([]string{name}, mat.NewDense(len(values), 1, append([]float64(nil), values...)))
}

// Concat stacks frames with identical columns.
func Concat(frames ...*Frame) (*Frame, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", common.ErrorInvalidValue)
	}
	columns := frames[0].Columns
	total := 0
	for _, f := range frames {
		if len(f.Columns) != len(columns) {
			return nil, fmt.Errorf("%w: frames have different columns", common.ErrorDimensionMismatch)
		}
		for j := range columns {
			if f.Columns[j] != columns[j] {
				return nil, fmt.Errorf("%w: column %q does not match %q",
					common.ErrorDimensionMismatch, f.Columns[j], columns[j])
			}
		}
		total += f.Rows()
	}

	res := &Frame{
		Columns: append([]string(nil), columns...),
		Index:   make([]int, 0, total),
	}
	if total == 0 {
		return res, nil
	}
	res.Data = mat.NewDense(total, len(columns), nil)
	k := 0
	for _, f := range frames {
		for i := 0; i < f.Rows(); i++ {
			copy(res.Data.RawRowView(k), f.Data.RawRowView(i))
			res.Index = append(res.Index, f.Index[i])
			k++
		}
	}
	return res, nil
}

// SortByIndex returns the rows ordered by their original index.
func (f *Frame) SortByIndex() *Frame {
	order := make([]int, f.Rows())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return f.Index[order[a]] < f.Index[order[b]]
	})
	return f.Subset(order)
}
