package inventory

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Label is a condition tag derived from inventory and sales signals.
type Label uint8

const (
	NoStock           Label = 1
	NoSales           Label = 2
	HotSeller         Label = 3
	AgingWarning      Label = 4
	NegativeInventory Label = 5
)

// AllLabels lists every known label in ascending order.
var AllLabels = []Label{NoStock, NoSales, HotSeller, AgingWarning, NegativeInventory}

// Valid reports whether l is one of the known labels.
func (l Label) Valid() bool {
	return l >= NoStock && l <= NegativeInventory
}

func (l Label) String() string {
	switch l {
	case NoStock:
		return "no_stock"
	case NoSales:
		return "no_sales"
	case HotSeller:
		return "hot_seller"
	case AgingWarning:
		return "aging_warning"
	case NegativeInventory:
		return "negative_inventory"
	default:
		return fmt.Sprintf("label(%d)", uint8(l))
	}
}

// LabelSet is a closed set of labels stored as a bitset.
type LabelSet uint8

// NewLabelSet builds a set from the given labels. Unknown labels are ignored.
func NewLabelSet(labels ...Label) LabelSet {
	var s LabelSet
	for _, l := range labels {
		s = s.With(l)
	}
	return s
}

// Has reports whether l is in the set.
func (s LabelSet) Has(l Label) bool {
	return l.Valid() && s&(1<<l) != 0
}

// With returns a copy of the set with l added.
func (s LabelSet) With(l Label) LabelSet {
	if !l.Valid() {
		return s
	}
	return s | 1<<l
}

// Labels returns the members in ascending order.
func (s LabelSet) Labels() []Label {
	out := make([]Label, 0, len(AllLabels))
	for _, l := range AllLabels {
		if s.Has(l) {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of labels in the set.
func (s LabelSet) Len() int {
	return len(s.Labels())
}

// IsEmpty reports whether the set has no labels.
func (s LabelSet) IsEmpty() bool {
	return s == 0
}

func (s LabelSet) String() string {
	labels := s.Labels()
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = fmt.Sprintf("%d", uint8(l))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// MarshalJSON encodes the set as an ascending integer list.
func (s LabelSet) MarshalJSON() ([]byte, error) {
	labels := s.Labels()
	ints := make([]int, len(labels))
	for i, l := range labels {
		ints[i] = int(l)
	}
	return json.Marshal(ints)
}

// UnmarshalJSON accepts null or an integer list. Duplicates collapse.
func (s *LabelSet) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*s = 0
		return nil
	}
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("decode labels: %w", err)
	}
	var set LabelSet
	for _, v := range ints {
		l := Label(v)
		if v < 0 || v > 255 || !l.Valid() {
			return fmt.Errorf("unknown label %d", v)
		}
		set = set.With(l)
	}
	*s = set
	return nil
}

// Value stores the set as a JSON integer list.
func (s LabelSet) Value() (driver.Value, error) {
	b, err := s.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON integer list. NULL and empty strings mean no labels.
func (s *LabelSet) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = 0
		return nil
	case []byte:
		return s.UnmarshalJSON(v)
	case string:
		return s.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into LabelSet", src)
	}
}
