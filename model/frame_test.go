package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uyouii/cytometry-algorithms/common"
	"gonum.org/v1/gonum/mat"
)

func testFrame(t *testing.T) *Frame {
	f, err := NewFrame([]string{"FSC-A", "SSC-A", "CD3"}, [][]float64{
		{1, 10, 100},
		{2, 20, 200},
		{3, 30, 300},
		{4, 40, 400},
	})
	require.NoError(t, err)
	return f
}

func TestNewFrame(t *testing.T) {
	f := testFrame(t)
	assert.Equal(t, 4, f.Rows())
	assert.Equal(t, 3, f.Cols())
	assert.Equal(t, []int{0, 1, 2, 3}, f.Index)

	_, err := NewFrame([]string{"a", "b"}, [][]float64{{1}})
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)

	_, err = NewFrame(nil, nil)
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	empty, err := NewFrame([]string{"a"}, nil)
	require.NoError(t, err)
	assert.True(t, empty.IsEmpty())
}

func TestFrameColumnAndSelect(t *testing.T) {
	f := testFrame(t)
	col, err := f.Column("SSC-A")
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 20, 30, 40}, col)

	_, err = f.Column("missing")
	assert.ErrorIs(t, err, common.ErrorInvalidValue)

	sel, err := f.Select([]string{"CD3", "FSC-A"})
	require.NoError(t, err)
	r, c := sel.Dims()
	assert.Equal(t, 4, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 300.0, sel.At(2, 0))
	assert.Equal(t, 3.0, sel.At(2, 1))
}

func TestFrameSubsetConcatSort(t *testing.T) {
	f := testFrame(t)
	a := f.Subset([]int{3, 1})
	b := f.Subset([]int{2, 0})
	assert.Equal(t, []int{3, 1}, a.Index)

	all, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, 4, all.Rows())

	sorted := all.SortByIndex()
	assert.Equal(t, []int{0, 1, 2, 3}, sorted.Index)
	assert.True(t, mat.Equal(f.Data, sorted.Data))

	other, err := NewFrame([]string{"x"}, [][]float64{{1}})
	require.NoError(t, err)
	_, err = Concat(f, other)
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}

func TestFrameWithColumns(t *testing.T) {
	f := testFrame(t)
	emb := mat.NewDense(4, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	res, err := f.WithColumns([]string{"PCA1", "CD3"}, emb)
	require.NoError(t, err)
	assert.Equal(t, []string{"FSC-A", "SSC-A", "CD3", "PCA1"}, res.Columns)
	cd3, _ := res.Column("CD3")
	assert.Equal(t, []float64{2, 4, 6, 8}, cd3)

	// the source frame is left untouched
	orig, _ := f.Column("CD3")
	assert.Equal(t, []float64{100, 200, 300, 400}, orig)

	_, err = f.WithColumn("bad", []float64{1})
	assert.ErrorIs(t, err, common.ErrorDimensionMismatch)
}
