// Package lifecycle defines the ordered RFP status progression and validates
// transitions. Preconditions that depend on data (chosen vendors, response
// counts) are checked at the operation boundary, not here, because status can
// be force-overridden by an operator.
package lifecycle

import (
	"fmt"

	"github.com/procureflow/backend/pkg/apperr"
)

type Status string

const (
	StatusNew              Status = "New"
	StatusDescribed        Status = "Described"
	StatusVendorsChosen    Status = "VendorsChosen"
	StatusVendorsResponded Status = "VendorsResponded"
	StatusCompared         Status = "Compared"
	StatusCompleted        Status = "Completed"
)

var order = map[Status]int{
	StatusNew:              0,
	StatusDescribed:        1,
	StatusVendorsChosen:    2,
	StatusVendorsResponded: 3,
	StatusCompared:         4,
	StatusCompleted:        5,
}

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	_, ok := order[s]
	return ok
}

func Parse(raw string) (Status, error) {
	s := Status(raw)
	if !s.Valid() {
		return "", apperr.InvalidInput(fmt.Sprintf("invalid status %q", raw))
	}
	return s, nil
}

func All() []Status {
	return []Status{
		StatusNew,
		StatusDescribed,
		StatusVendorsChosen,
		StatusVendorsResponded,
		StatusCompared,
		StatusCompleted,
	}
}

// CanAdvance reports whether moving from one status to the next is a legal
// forward transition. Self-loops are allowed where a stage is repeatable:
// re-saving a description and reconciling additional responses.
func CanAdvance(from, to Status) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return from == StatusDescribed || from == StatusVendorsResponded
	}
	return order[to] == order[from]+1
}

// Advance validates the transition and returns the new status.
func Advance(from, to Status) (Status, error) {
	if !CanAdvance(from, to) {
		return from, apperr.InvalidInput(
			fmt.Sprintf("cannot move from %s to %s", from, to))
	}
	return to, nil
}

// Override is the operator escape hatch: any valid enum value is accepted
// regardless of the current status.
func Override(raw string) (Status, error) {
	return Parse(raw)
}
