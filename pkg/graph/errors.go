package graph

import "fmt"

// EntityNotFoundError is returned when no current version exists for a
// logical entity name.
type EntityNotFoundError struct {
	Name string
}

func (e EntityNotFoundError) Error() string {
	if e.Name == "" {
		return "entity not found"
	}

	return "entity not found: " + e.Name
}

// RelationNotFoundError is returned when no current version exists for a
// logical relation key.
type RelationNotFoundError struct {
	Key RelationKey
}

func (e RelationNotFoundError) Error() string {
	return fmt.Sprintf("relation not found: %s -[%s]-> %s", e.Key.From, e.Key.RelationType, e.Key.To)
}
