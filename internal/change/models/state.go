package models

// EntityState is the local representation of one entity. Exists=false stands
// for "absent", which lets Apply express create, delete and their inverses.
type EntityState struct {
	Kind     EntityKind
	EntityID string
	Fields   Fields
	Exists   bool
	Version  int64
}

// Absent returns the state of an entity that does not exist.
func Absent(kind EntityKind, entityID string) EntityState {
	return EntityState{Kind: kind, EntityID: entityID}
}

// Clone returns a copy with its own field map.
func (s EntityState) Clone() EntityState {
	s.Fields = s.Fields.Clone()
	return s
}

// StagedChange is a local mutation captured at application time together with
// what is needed to reverse it.
type StagedChange struct {
	Prior EntityState
	Next  EntityState
}

// Undo returns the state that restores Prior when applied.
func (s StagedChange) Undo() EntityState {
	return s.Prior.Clone()
}
