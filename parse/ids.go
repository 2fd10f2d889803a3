package parse

import "github.com/pkg/errors"

// IDs declared by one GTFS file, for files referencing it to check
// against.
type idSet map[string]bool

// Records a new, non-empty id.
func (s idSet) declare(field, id string) error {
	if id == "" {
		return errors.Errorf("empty %s", field)
	}
	if s[id] {
		return errors.Errorf("repeated %s '%s'", field, id)
	}
	s[id] = true
	return nil
}

func (s idSet) require(field, id string) error {
	if !s[id] {
		return errors.Errorf("unknown %s '%s'", field, id)
	}
	return nil
}
