package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// SplitIndices partitions the rows into train and test indices. testSize is
// the fraction of rows assigned to the test side; the test side is rounded
// up. A stratified split keeps class proportions on both sides.
func SplitIndices(d Dataset, rng *rand.Rand, testSize float64, stratify bool) ([]int, []int, error) {
	if rng == nil {
		return nil, nil, ErrRandSource
	}
	n := d.Len()
	if n == 0 {
		return nil, nil, ErrEmpty
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("%w: test size %v must be in (0, 1)", ErrSplitSize, testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	if nTest < 1 || nTest >= n {
		return nil, nil, fmt.Errorf("%w: %d rows cannot be split with test size %v", ErrSplitSize, n, testSize)
	}

	if !stratify {
		perm := rng.Perm(n)
		test := append([]int(nil), perm[:nTest]...)
		train := append([]int(nil), perm[nTest:]...)
		sort.Ints(test)
		sort.Ints(train)
		return train, test, nil
	}

	classes, groups := d.byClass()
	quota := allocate(classes, groups, nTest, n)

	var train, test []int
	for _, c := range classes {
		idx := append([]int(nil), groups[c]...)
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		test = append(test, idx[:quota[c]]...)
		train = append(train, idx[quota[c]:]...)
	}
	if len(train) == 0 {
		return nil, nil, fmt.Errorf("%w: stratified split left no training rows", ErrSplitSize)
	}
	sort.Ints(test)
	sort.Ints(train)
	return train, test, nil
}

// allocate distributes total test rows across classes proportionally using
// the largest remainder method.
func allocate(classes []float64, groups map[float64][]int, total, n int) map[float64]int {
	type share struct {
		class float64
		frac  float64
	}
	quota := make(map[float64]int, len(classes))
	shares := make([]share, 0, len(classes))
	assigned := 0
	for _, c := range classes {
		exact := float64(total) * float64(len(groups[c])) / float64(n)
		whole := int(math.Floor(exact))
		quota[c] = whole
		assigned += whole
		shares = append(shares, share{class: c, frac: exact - float64(whole)})
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].frac > shares[j].frac })
	for assigned < total {
		progressed := false
		for _, s := range shares {
			if assigned >= total {
				break
			}
			if quota[s.class] < len(groups[s.class]) {
				quota[s.class]++
				assigned++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return quota
}

// TrainTestSplit is SplitIndices materialized into datasets.
func TrainTestSplit(d Dataset, rng *rand.Rand, testSize float64, stratify bool) (Dataset, Dataset, error) {
	train, test, err := SplitIndices(d, rng, testSize, stratify)
	if err != nil {
		return Dataset{}, Dataset{}, err
	}
	return d.Subset(train), d.Subset(test), nil
}

// Fold is one train/test partition of a k-fold split.
type Fold struct {
	Train []int
	Test  []int
}

// StratifiedKFold splits rows into k folds without shuffling. Each class is
// cut into contiguous chunks and chunks are spread so fold sizes differ by at
// most one. k=1 yields a single fold that trains and tests on every row.
func StratifiedKFold(d Dataset, k int) ([]Fold, error) {
	n := d.Len()
	if k < 1 {
		return nil, fmt.Errorf("%w: k=%d must be >= 1", ErrFoldCount, k)
	}
	if n < k {
		return nil, fmt.Errorf("%w: k=%d exceeds %d rows", ErrFoldCount, k, n)
	}
	if k == 1 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return []Fold{{Train: all, Test: all}}, nil
	}

	classes, groups := d.byClass()
	testSets := make([][]int, k)
	start := 0
	for _, c := range classes {
		idx := groups[c]
		base, extra := len(idx)/k, len(idx)%k
		pos := 0
		for f := 0; f < k; f++ {
			fold := (start + f) % k
			size := base
			if f < extra {
				size++
			}
			testSets[fold] = append(testSets[fold], idx[pos:pos+size]...)
			pos += size
		}
		start = (start + extra) % k
	}

	folds := make([]Fold, 0, k)
	for _, test := range testSets {
		if len(test) == 0 {
			continue
		}
		sort.Ints(test)
		inTest := make(map[int]struct{}, len(test))
		for _, i := range test {
			inTest[i] = struct{}{}
		}
		train := make([]int, 0, n-len(test))
		for i := 0; i < n; i++ {
			if _, ok := inTest[i]; !ok {
				train = append(train, i)
			}
		}
		folds = append(folds, Fold{Train: train, Test: test})
	}
	return folds, nil
}

// Sampler draws (optionally stratified) subsamples of a fitted dataset. It
// is safe for concurrent use.
type Sampler struct {
	SampleSize float64
	Stratified bool

	mu     sync.Mutex
	rng    *rand.Rand
	full   Dataset
	fitted bool
}

func NewSampler(sampleSize float64, stratified bool, rng *rand.Rand) (*Sampler, error) {
	if rng == nil {
		return nil, ErrRandSource
	}
	if sampleSize <= 0 || sampleSize >= 1 {
		return nil, fmt.Errorf("%w: sample size %v must be in (0, 1)", ErrSplitSize, sampleSize)
	}
	return &Sampler{SampleSize: sampleSize, Stratified: stratified, rng: rng}, nil
}

func (s *Sampler) Fit(full Dataset) error {
	if err := full.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = full
	s.fitted = true
	return nil
}

// Sample draws a fresh subsample and returns it with the row indices it was
// taken from.
func (s *Sampler) Sample() (Dataset, []int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fitted {
		return Dataset{}, nil, ErrEmpty
	}
	_, idx, err := SplitIndices(s.full, s.rng, s.SampleSize, s.Stratified)
	if err != nil {
		return Dataset{}, nil, err
	}
	return s.full.Subset(idx), idx, nil
}
