package task

import (
	"fmt"
	"strconv"
	"strings"
)

// Plan is the remediation action chosen for a task.
type Plan int

const (
	Unselected        Plan = 0
	ReturnToFactory   Plan = 1
	PriceCutClearance Plan = 2
	Disposal          Plan = 3
)

// Plans lists the selectable remediation plans.
var Plans = []Plan{ReturnToFactory, PriceCutClearance, Disposal}

// Valid reports whether p is a known plan, including Unselected.
func (p Plan) Valid() bool {
	return p >= Unselected && p <= Disposal
}

func (p Plan) String() string {
	switch p {
	case Unselected:
		return "unselected"
	case ReturnToFactory:
		return "return_to_factory"
	case PriceCutClearance:
		return "price_cut_clearance"
	case Disposal:
		return "disposal"
	default:
		return fmt.Sprintf("plan(%d)", int(p))
	}
}

// Title is the human readable plan name.
func (p Plan) Title() string {
	switch p {
	case ReturnToFactory:
		return "Return to factory"
	case PriceCutClearance:
		return "Price-cut clearance"
	case Disposal:
		return "Disposal"
	default:
		return "No plan"
	}
}

// ParsePlan accepts a plan number or name.
func ParsePlan(s string) (Plan, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		p := Plan(n)
		if !p.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidPlan, n)
		}
		return p, nil
	}
	for _, p := range append([]Plan{Unselected}, Plans...) {
		if p.String() == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPlan, s)
}
