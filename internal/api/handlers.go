package api

import (
	"net/http"

	"github.com/fruitsalade/projectfiles/internal/auth"
	"github.com/fruitsalade/projectfiles/internal/resource"
	"github.com/fruitsalade/projectfiles/pkg/models"
	"github.com/fruitsalade/projectfiles/pkg/protocol"
	"github.com/fruitsalade/projectfiles/pkg/tree"
)

// handleList serves GET /nodes?parent={id} and GET /nodes?depth=all.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	if q.Get("depth") == protocol.DepthAll {
		nodes, err := s.svc.ListAll(r.Context(), c)
		if err != nil {
			s.fail(w, r, "list all", err)
			return
		}
		s.sendJSON(w, http.StatusOK, &protocol.ListResponse{Nodes: nodes, Path: []models.Node{tree.Root()}})
		return
	}

	l, err := s.svc.ListChildren(r.Context(), c, q.Get("parent"))
	if err != nil {
		s.fail(w, r, "list", err)
		return
	}
	s.sendJSON(w, http.StatusOK, &protocol.ListResponse{Nodes: l.Nodes, Path: l.Path})
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	var req protocol.CreateFolderRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.svc.CreateFolder(r.Context(), c, req.Name, req.ParentID, uploader(r))
	if err != nil {
		s.fail(w, r, "create folder", err)
		return
	}
	s.sendJSON(w, http.StatusCreated, &protocol.NodeResponse{Node: n})
}

func (s *Server) handleRegisterFile(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	var req protocol.RegisterFileRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.svc.RegisterFile(r.Context(), c, resource.FileSpec{
		Name:        req.Name,
		ParentID:    req.ParentID,
		Size:        req.Size,
		Access:      req.Access,
		Description: req.Description,
		Tags:        req.Tags,
		License:     req.License,
		Author:      req.Author,
		UploaderRef: uploader(r),
	})
	if err != nil {
		s.fail(w, r, "register file", err)
		return
	}
	s.sendJSON(w, http.StatusCreated, &protocol.NodeResponse{Node: n})
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	var req protocol.MoveRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.Move(r.Context(), c, r.PathValue("id"), req.ParentID); err != nil {
		s.fail(w, r, "move", err)
		return
	}
	s.sendJSON(w, http.StatusOK, &protocol.OKResponse{OK: true})
}

func (s *Server) handleChangeAccess(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	var req protocol.AccessRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.ChangeAccess(r.Context(), c, r.PathValue("id"), req.Access); err != nil {
		s.fail(w, r, "change access", err)
		return
	}
	s.sendJSON(w, http.StatusOK, &protocol.OKResponse{OK: true})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	var req protocol.EditRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.svc.Edit(r.Context(), c, r.PathValue("id"), req.Name, req.Description)
	if err != nil {
		s.fail(w, r, "edit", err)
		return
	}
	s.sendJSON(w, http.StatusOK, &protocol.NodeResponse{Node: n})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	if err := s.svc.Delete(r.Context(), c, r.PathValue("id")); err != nil {
		s.fail(w, r, "delete", err)
		return
	}
	s.sendJSON(w, http.StatusOK, &protocol.OKResponse{OK: true})
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	increment := r.URL.Query().Get("increment") == "1"
	link, err := s.svc.DownloadURL(r.Context(), c, r.PathValue("id"), increment)
	if err != nil {
		s.fail(w, r, "download url", err)
		return
	}
	s.sendJSON(w, http.StatusOK, &protocol.DownloadURLResponse{URL: link.URL, ExpiresAt: &link.ExpiresAt})
}

func (s *Server) handleSuggestTags(w http.ResponseWriter, r *http.Request) {
	c, ok := s.collection(w, r)
	if !ok {
		return
	}
	tags, err := s.svc.SuggestTags(r.Context(), c, r.URL.Query().Get("prefix"))
	if err != nil {
		s.fail(w, r, "suggest tags", err)
		return
	}
	s.sendJSON(w, http.StatusOK, &protocol.TagsResponse{Tags: tags})
}

// uploader returns the caller recorded as uploaderRef.
func uploader(r *http.Request) string {
	if claims := auth.GetClaims(r.Context()); claims != nil {
		return claims.Username
	}
	return ""
}
