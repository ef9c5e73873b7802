package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Importance is the ordinal alert severity. Values compare with the usual
// integer operators: ImportanceNone < ImportanceLow < ImportanceMedium < ImportanceCritical.
type Importance int

const (
	ImportanceNone Importance = iota
	ImportanceLow
	ImportanceMedium
	ImportanceCritical
)

func (i Importance) String() string {
	switch i {
	case ImportanceNone:
		return "NONE"
	case ImportanceLow:
		return "LOW"
	case ImportanceMedium:
		return "MEDIUM"
	case ImportanceCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("Importance(%d)", int(i))
	}
}

// ParseImportance accepts a label in any letter case.
func ParseImportance(s string) (Importance, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "NONE":
		return ImportanceNone, nil
	case "LOW":
		return ImportanceLow, nil
	case "MEDIUM":
		return ImportanceMedium, nil
	case "CRITICAL":
		return ImportanceCritical, nil
	}
	return ImportanceNone, fmt.Errorf("unknown importance %q", s)
}

// AtLeast reports whether i reaches the minimum level.
func (i Importance) AtLeast(minimum Importance) bool {
	return i >= minimum
}

func (i Importance) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

func (i *Importance) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseImportance(s)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}
