// Package protocol defines the API request/response types.
//
// Every JSON response embeds Envelope. A truthy Err is the only failure
// signal a client should rely on.
package protocol

import (
	"time"

	"github.com/fruitsalade/projectfiles/pkg/models"
)

// Envelope is embedded in every response body.
type Envelope struct {
	Err    bool   `json:"err"`
	ErrMsg string `json:"errMsg,omitempty"`
}

// Status returns the envelope. Every response type satisfies Enveloped through it.
func (e *Envelope) Status() *Envelope {
	return e
}

// Enveloped is implemented by pointers to every response type.
type Enveloped interface {
	Status() *Envelope
}

// Failed returns the envelope of a failed response.
func Failed(msg string) Envelope {
	return Envelope{Err: true, ErrMsg: msg}
}

// DepthAll is the depth query value that asks for the whole collection.
const DepthAll = "all"

// ListResponse is returned by GET /nodes.
// Path runs from the root entry to the listed directory inclusive.
type ListResponse struct {
	Envelope
	Nodes []models.Node `json:"nodes"`
	Path  []models.Node `json:"path"`
}

// NodeResponse is returned by endpoints that create or edit a node.
type NodeResponse struct {
	Envelope
	Node *models.Node `json:"node,omitempty"`
}

// OKResponse is returned by mutations without a payload.
type OKResponse struct {
	Envelope
	OK bool `json:"ok"`
}

// DownloadURLResponse is returned by GET /nodes/{id}/download.
type DownloadURLResponse struct {
	Envelope
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// TagsResponse is returned by GET /tags.
type TagsResponse struct {
	Envelope
	Tags []string `json:"tags"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Envelope
	State string `json:"status"` // ok or degraded
	Store string `json:"store"`
}

// CreateFolderRequest is the body for POST /folders.
type CreateFolderRequest struct {
	Name     string `json:"name"`
	ParentID string `json:"parentID"`
}

// RegisterFileRequest is the body for POST /files. It carries metadata
// only; the bytes were stored by the upload transport.
type RegisterFileRequest struct {
	Name        string        `json:"name"`
	ParentID    string        `json:"parentID"`
	Size        int64         `json:"size"`
	Access      models.Access `json:"access,omitempty"`
	Description string        `json:"description,omitempty"`
	Tags        []string      `json:"tags,omitempty"`
	License     string        `json:"license,omitempty"`
	Author      string        `json:"author,omitempty"`
}

// MoveRequest is the body for PUT /nodes/{id}/parent.
type MoveRequest struct {
	ParentID string `json:"parentID"`
}

// AccessRequest is the body for PUT /nodes/{id}/access.
type AccessRequest struct {
	Access models.Access `json:"access"`
}

// EditRequest is the body for PATCH /nodes/{id}. Nil fields are left unchanged.
type EditRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Event types published on GET /events.
const (
	EventCreated = "created"
	EventMoved   = "moved"
	EventDeleted = "deleted"
	EventAccess  = "access"
	EventEdited  = "edited"
)

// Event describes a committed change to one collection.
// ParentIDs lists every directory whose listing changed.
type Event struct {
	Type       string   `json:"type"`
	Collection string   `json:"collection"`
	NodeID     string   `json:"nodeID"`
	ParentIDs  []string `json:"parentIDs"`
	Timestamp  int64    `json:"timestamp"`
}

// Touches reports whether the event changed the listing of dir.
func (e Event) Touches(dir string) bool {
	for _, p := range e.ParentIDs {
		if p == dir {
			return true
		}
	}
	return false
}
