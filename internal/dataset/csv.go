package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

type CSVOptions struct {
	// Target names the label column. Empty selects the last column.
	Target string
	// Classes fixes the categorical encoding, typically to the ClassNames of
	// a training table. Every label must then be one of these names.
	Classes []string
}

func LoadCSVFile(path string, opts CSVOptions) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer f.Close()
	return LoadCSV(f, opts)
}

// LoadCSV reads a headed CSV table. Feature columns must be numeric. A
// numeric target column is used as is; any other target column is treated as
// categorical and encoded as class indices in name order.
func LoadCSV(in io.Reader, opts CSVOptions) (Dataset, error) {
	reader := csv.NewReader(in)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return Dataset{}, ErrEmpty
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	target := len(header) - 1
	if opts.Target != "" {
		target = -1
		for i, name := range header {
			if name == opts.Target {
				target = i
				break
			}
		}
		if target < 0 {
			return Dataset{}, fmt.Errorf("target column %q not found", opts.Target)
		}
	}
	if len(header) < 2 {
		return Dataset{}, fmt.Errorf("%w: need at least one feature and one target column", ErrShape)
	}

	var x [][]float64
	var labels []string
	rowIndex := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read csv row %d: %w", rowIndex, err)
		}
		if blankRecord(record) {
			continue
		}
		if len(record) != len(header) {
			return Dataset{}, fmt.Errorf("%w: csv row %d has %d fields, want %d", ErrShape, rowIndex, len(record), len(header))
		}

		row := make([]float64, 0, len(record)-1)
		for i, field := range record {
			if i == target {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return Dataset{}, fmt.Errorf("csv row %d column %q: %w", rowIndex, header[i], err)
			}
			row = append(row, v)
		}
		x = append(x, row)
		labels = append(labels, strings.TrimSpace(record[target]))
		rowIndex++
	}

	var (
		y          []float64
		classNames []string
	)
	if opts.Classes != nil {
		if y, err = encodeWithClasses(labels, opts.Classes); err != nil {
			return Dataset{}, err
		}
		classNames = append([]string(nil), opts.Classes...)
	} else {
		y, classNames = encodeTargets(labels)
	}
	d := Dataset{X: x, Y: y, ClassNames: classNames}
	if err := d.Validate(); err != nil {
		return Dataset{}, err
	}
	return d, nil
}

func encodeTargets(labels []string) ([]float64, []string) {
	y := make([]float64, len(labels))
	numeric := true
	for i, label := range labels {
		v, err := strconv.ParseFloat(label, 64)
		if err != nil {
			numeric = false
			break
		}
		y[i] = v
	}
	if numeric {
		return y, nil
	}

	seen := map[string]struct{}{}
	for _, label := range labels {
		seen[label] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	index := make(map[string]float64, len(names))
	for i, name := range names {
		index[name] = float64(i)
	}
	for i, label := range labels {
		y[i] = index[label]
	}
	return y, names
}

func encodeWithClasses(labels, classes []string) ([]float64, error) {
	index := make(map[string]float64, len(classes))
	for i, name := range classes {
		index[name] = float64(i)
	}
	y := make([]float64, len(labels))
	for i, label := range labels {
		v, ok := index[label]
		if !ok {
			return nil, fmt.Errorf("%w: csv row %d label %q", ErrUnknownClass, i+1, label)
		}
		y[i] = v
	}
	return y, nil
}

func blankRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
