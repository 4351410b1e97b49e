package relquery

import (
	"fmt"
)

// RelationKind distinguishes how child rows are linked to the parent entity.
type RelationKind int

const (
	// OneToMany links child rows to the parent through a foreign key column
	// on the child table.
	OneToMany RelationKind = iota
	// ManyToMany links child rows to the parent through a join table.
	ManyToMany
)

// Relation declares a named relation of an entity. Static configuration,
// immutable once the entity is registered.
type Relation struct {
	Name       string
	Table      string
	ForeignKey string   // child column referencing the parent id (OneToMany)
	Columns    []string // columns selected from the child table
	Kind       RelationKind
	OrderBy    []string

	// ManyToMany only
	JoinTable     string // join table name
	JoinLocalKey  string // join table column referencing the parent id
	JoinRemoteKey string // join table column referencing the child id
	ChildIDColumn string // primary key of the child table
}

// Entity describes a primary entity: its table, identifier and the relations
// that may be requested alongside it.
type Entity struct {
	Name      string
	Table     string
	IDColumn  string
	Columns   []string
	OrderBy   []string
	Relations []Relation // declaration order is preserved for plan steps
}

// Relation returns the declared relation with the given name.
func (e *Entity) Relation(name string) (*Relation, bool) {
	for i := range e.Relations {
		if e.Relations[i].Name == name {
			return &e.Relations[i], true
		}
	}
	return nil, false
}

// Schema is the set of registered entities. It is populated once at process
// start and read-only afterwards.
type Schema struct {
	entities map[string]*Entity
}

func NewSchema() *Schema {
	return &Schema{entities: make(map[string]*Entity)}
}

// Register adds an entity to the schema. It fails on duplicate entity or
// relation names and on incomplete relation declarations.
func (s *Schema) Register(entity Entity) error {
	if entity.Name == "" || entity.Table == "" || entity.IDColumn == "" {
		return fmt.Errorf("relquery: entity %q must declare a name, table and id column", entity.Name)
	}
	if _, ok := s.entities[entity.Name]; ok {
		return fmt.Errorf("relquery: entity %q is already registered", entity.Name)
	}

	seen := make(map[string]struct{}, len(entity.Relations))
	for _, rel := range entity.Relations {
		if _, ok := seen[rel.Name]; ok {
			return fmt.Errorf("relquery: entity %q declares relation %q twice", entity.Name, rel.Name)
		}
		seen[rel.Name] = struct{}{}

		switch rel.Kind {
		case OneToMany:
			if rel.Table == "" || rel.ForeignKey == "" {
				return fmt.Errorf("relquery: relation %q of %q must declare a table and foreign key", rel.Name, entity.Name)
			}
		case ManyToMany:
			if rel.Table == "" || rel.JoinTable == "" || rel.JoinLocalKey == "" || rel.JoinRemoteKey == "" || rel.ChildIDColumn == "" {
				return fmt.Errorf("relquery: relation %q of %q must declare a join table and join keys", rel.Name, entity.Name)
			}
		default:
			return fmt.Errorf("relquery: relation %q of %q has unknown kind", rel.Name, entity.Name)
		}
	}

	copied := entity
	s.entities[entity.Name] = &copied
	return nil
}

// Entity returns the registered entity with the given name.
func (s *Schema) Entity(name string) (*Entity, bool) {
	entity, ok := s.entities[name]
	return entity, ok
}
