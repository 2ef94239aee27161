package dataset

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmpty      = errors.New("dataset is empty")
	ErrShape      = errors.New("dataset shape mismatch")
	ErrSplitSize  = errors.New("invalid split size")
	ErrFoldCount  = errors.New("invalid fold count")
	ErrRandSource = errors.New("random source is required")

	// ErrUnknownClass reports a label outside a fixed class encoding.
	ErrUnknownClass = errors.New("label is not a known class")
)

// Dataset is a feature matrix with one target per row. Datasets are shared
// read-only between concurrent evaluations; derived datasets copy the row
// index but share row storage.
type Dataset struct {
	X [][]float64
	Y []float64
	// ClassNames maps integer class labels back to their original names
	// when the targets were categorical.
	ClassNames []string
}

func New(x [][]float64, y []float64) (Dataset, error) {
	d := Dataset{X: x, Y: y}
	if err := d.Validate(); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

func (d Dataset) Validate() error {
	if len(d.X) == 0 {
		return ErrEmpty
	}
	if len(d.X) != len(d.Y) {
		return fmt.Errorf("%w: %d rows but %d targets", ErrShape, len(d.X), len(d.Y))
	}
	width := len(d.X[0])
	for i, row := range d.X {
		if len(row) != width {
			return fmt.Errorf("%w: row %d has %d features, want %d", ErrShape, i, len(row), width)
		}
	}
	return nil
}

func (d Dataset) Len() int {
	return len(d.X)
}

func (d Dataset) Features() int {
	if len(d.X) == 0 {
		return 0
	}
	return len(d.X[0])
}

// Subset returns the rows at idx in order.
func (d Dataset) Subset(idx []int) Dataset {
	out := Dataset{
		X:          make([][]float64, len(idx)),
		Y:          make([]float64, len(idx)),
		ClassNames: d.ClassNames,
	}
	for i, j := range idx {
		out.X[i] = d.X[j]
		out.Y[i] = d.Y[j]
	}
	return out
}

// Classes returns the distinct targets in ascending order.
func (d Dataset) Classes() []float64 {
	seen := make(map[float64]struct{})
	for _, y := range d.Y {
		seen[y] = struct{}{}
	}
	classes := make([]float64, 0, len(seen))
	for y := range seen {
		classes = append(classes, y)
	}
	sort.Float64s(classes)
	return classes
}

// byClass groups row indices by target, classes ascending, indices in row
// order.
func (d Dataset) byClass() ([]float64, map[float64][]int) {
	groups := make(map[float64][]int)
	for i, y := range d.Y {
		groups[y] = append(groups[y], i)
	}
	classes := make([]float64, 0, len(groups))
	for y := range groups {
		classes = append(classes, y)
	}
	sort.Float64s(classes)
	return classes, groups
}
