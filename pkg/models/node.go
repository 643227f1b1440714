// Package models contains the resource tree types shared by client and server.
package models

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// RootID is the parent id of top-level nodes. The root itself is virtual.
const RootID = ""

// Name length limits, counted in runes.
const (
	MinNameLength = 1
	MaxNameLength = 100
)

var (
	// ErrInvalidName is returned for names outside 1-100 characters.
	ErrInvalidName = errors.New("name must be between 1 and 100 characters")
	// ErrInvalidAccess is returned for an empty or unknown access level.
	ErrInvalidAccess = errors.New("invalid access level")
	// ErrInvalidKind is returned for an unknown node kind.
	ErrInvalidKind = errors.New("invalid node kind")
)

// Kind tags a node as a file or a folder. It never changes after creation.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindFile || k == KindFolder
}

// Access is a persisted visibility level. It never holds the derived "mixed" state.
type Access string

const (
	AccessPublic      Access = "public"
	AccessUsers       Access = "users"
	AccessInstructors Access = "instructors"
	AccessTeam        Access = "team"
)

// AccessLevels lists every persisted level, widest audience first.
var AccessLevels = []Access{AccessPublic, AccessUsers, AccessInstructors, AccessTeam}

// Valid reports whether a is one of the persisted levels.
func (a Access) Valid() bool {
	switch a {
	case AccessPublic, AccessUsers, AccessInstructors, AccessTeam:
		return true
	}
	return false
}

// ParseAccess converts user input into a persisted level.
// "mixed" is display-only and is rejected like any unknown value.
func ParseAccess(s string) (Access, error) {
	a := Access(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAccess, s)
	}
	return a, nil
}

// DisplayAccess is what a listing shows for a node: a persisted level or Mixed.
type DisplayAccess string

// Mixed is shown for folders whose descendant files disagree on access.
const Mixed DisplayAccess = "mixed"

// Display lifts a persisted level into its display form.
func (a Access) Display() DisplayAccess {
	return DisplayAccess(a)
}

// IsMixed reports whether d is the derived mixed state.
func (d DisplayAccess) IsMixed() bool {
	return d == Mixed
}

// Node is a file or folder in one resource collection.
type Node struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Kind        Kind          `json:"kind"`
	ParentID    string        `json:"parentID"`
	Access      Access        `json:"explicitAccess,omitempty"`
	Display     DisplayAccess `json:"access,omitempty"`
	Description string        `json:"description,omitempty"`
	CreatedDate time.Time     `json:"createdDate"`
	UploaderRef string        `json:"uploaderRef,omitempty"`

	// Files only.
	Size          int64 `json:"size,omitempty"`
	DownloadCount int64 `json:"downloadCount,omitempty"`

	// Opaque to the tree manager.
	Tags    []string `json:"tags,omitempty"`
	License string   `json:"license,omitempty"`
	Author  string   `json:"author,omitempty"`
}

// IsFolder reports whether the node is a folder.
func (n *Node) IsFolder() bool {
	return n.Kind == KindFolder
}

// IsFile reports whether the node is a file.
func (n *Node) IsFile() bool {
	return n.Kind == KindFile
}

// ValidateName checks the 1-100 character rule.
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLength || n > MaxNameLength {
		return ErrInvalidName
	}
	return nil
}

// IDs returns the ids of nodes in order.
func IDs(nodes []Node) []string {
	ids := make([]string, len(nodes))
	for i := range nodes {
		ids[i] = nodes[i].ID
	}
	return ids
}

// CollectionKind names one of the two resource collections of a project.
type CollectionKind string

const (
	CollectionFiles     CollectionKind = "files"
	CollectionMaterials CollectionKind = "materials"
)

// Valid reports whether k is a known collection kind.
func (k CollectionKind) Valid() bool {
	return k == CollectionFiles || k == CollectionMaterials
}

// Collection scopes a tree: every node belongs to exactly one collection.
type Collection struct {
	ProjectID string         `json:"projectID"`
	Kind      CollectionKind `json:"kind"`
}

// Key returns a stable cache/counter key for the collection.
func (c Collection) Key() string {
	return c.ProjectID + "/" + string(c.Kind)
}

func (c Collection) String() string {
	return c.Key()
}
