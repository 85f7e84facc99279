package catalog

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
)

//go:embed skills.json
var skillsJSON []byte

// Skills is the fixed list of suggested skills. Lookups ignore case.
type Skills struct {
	names     []string
	canonical map[string]string
}

// LoadSkills parses the embedded catalog.
func LoadSkills() (*Skills, error) {
	return ParseSkills(skillsJSON)
}

// ParseSkills builds a catalog from a JSON array of names. Blank entries and
// case-insensitive repeats are dropped, keeping the first spelling.
func ParseSkills(data []byte) (*Skills, error) {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, fmt.Errorf("parse skills catalog: %w", err)
	}
	s := &Skills{canonical: make(map[string]string, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, ok := s.canonical[key]; ok {
			continue
		}
		s.canonical[key] = n
		s.names = append(s.names, n)
	}
	return s, nil
}

// Canonical returns the catalog spelling of name.
func (s *Skills) Canonical(name string) (string, bool) {
	c, ok := s.canonical[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names returns a copy of the catalog in file order.
func (s *Skills) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}
