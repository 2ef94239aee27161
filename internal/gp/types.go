package gp

import (
	"errors"
	"fmt"
	"strconv"
)

var ErrMalformedArity = errors.New("malformed arity")

// Bound is the upper end of an arity range. It is either Bounded or Unbounded.
type Bound interface {
	isBound()
	String() string
}

// Bounded is a finite, inclusive upper bound.
type Bounded int

func (Bounded) isBound() {}

func (b Bounded) String() string {
	return strconv.Itoa(int(b))
}

// Unbounded places no limit on the number of children.
type Unbounded struct{}

func (Unbounded) isBound() {}

func (Unbounded) String() string {
	return "n"
}

// Arity is an inclusive child count range.
type Arity struct {
	Min int
	Max Bound
}

func Exactly(n int) Arity {
	return Arity{Min: n, Max: Bounded(n)}
}

func Between(lo, hi int) Arity {
	return Arity{Min: lo, Max: Bounded(hi)}
}

func AtLeast(k int) Arity {
	return Arity{Min: k, Max: Unbounded{}}
}

func (a Arity) Validate() error {
	if a.Min < 0 {
		return fmt.Errorf("%w: negative lower bound %d", ErrMalformedArity, a.Min)
	}
	switch hi := a.Max.(type) {
	case Bounded:
		if int(hi) < a.Min {
			return fmt.Errorf("%w: upper bound %d below lower bound %d", ErrMalformedArity, int(hi), a.Min)
		}
	case Unbounded:
	default:
		return fmt.Errorf("%w: missing upper bound", ErrMalformedArity)
	}
	return nil
}

func (a Arity) Accepts(count int) bool {
	if count < a.Min {
		return false
	}
	switch hi := a.Max.(type) {
	case Bounded:
		return count <= int(hi)
	case Unbounded:
		return true
	default:
		return false
	}
}

// Upper returns the largest child count the generator may pick. Unbounded
// ranges are capped at softCap, but never below Min.
func (a Arity) Upper(softCap int) int {
	switch hi := a.Max.(type) {
	case Bounded:
		return int(hi)
	case Unbounded:
		if softCap < a.Min {
			return a.Min
		}
		return softCap
	default:
		return a.Min
	}
}

func (a Arity) String() string {
	if b, ok := a.Max.(Bounded); ok && int(b) == a.Min {
		return strconv.Itoa(a.Min)
	}
	upper := "?"
	if a.Max != nil {
		upper = a.Max.String()
	}
	return fmt.Sprintf("(%d,%s)", a.Min, upper)
}

// TypeArity binds a child slot type to its allowed child count.
type TypeArity struct {
	Type  string
	Arity Arity
}

func (t TypeArity) Accepts(count int) bool {
	return t.Arity.Accepts(count)
}

func (t TypeArity) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("%w: slot type is required", ErrMalformedArity)
	}
	return t.Arity.Validate()
}

func (t TypeArity) String() string {
	return t.Type + t.Arity.String()
}
