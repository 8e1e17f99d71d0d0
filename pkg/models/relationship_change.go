package models

// RelationshipChange describes a committed mutation of a host relationship.
type RelationshipChange struct {
	Deleted      bool
	Relationship HostRelationship
}
