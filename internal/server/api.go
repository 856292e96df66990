// ABOUTME: HTTP API handlers for keydrop
// ABOUTME: Public resolve endpoint plus the JWT-gated admin surface

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/keydrop/internal/auth"
	"github.com/2389/keydrop/internal/issuer"
	"github.com/2389/keydrop/internal/store"
)

// HealthResponse is the JSON response for GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Stock   int    `json:"stock"`
}

// ResolveResponse is the JSON response for GET /api/resolve/{token}.
// This is the one place besides issuance where the secret leaves the
// system; the consuming login site exchanges the link for it.
type ResolveResponse struct {
	Token       string `json:"token"`
	Login       string `json:"login"`
	Secret      string `json:"secret"`
	CreatedAt   string `json:"created_at"`
	AccessCount int64  `json:"access_count"`
}

// IssueResponse is the JSON response for POST /api/admin/issue.
type IssueResponse struct {
	Token     string `json:"token"`
	Login     string `json:"login"`
	Secret    string `json:"secret"`
	Link      string `json:"link"`
	CreatedAt string `json:"created_at"`
}

// UploadEntriesRequest is the JSON request body for POST /api/admin/entries.
type UploadEntriesRequest struct {
	Lines []string `json:"lines"`
}

// UploadEntriesResponse is the JSON response for POST /api/admin/entries.
type UploadEntriesResponse struct {
	Added int `json:"added"`
}

// TokenResponse is the admin view of one ledger record. The secret is
// deliberately absent: admins hand out links, not passwords.
type TokenResponse struct {
	Token        string  `json:"token"`
	Login        string  `json:"login"`
	OwnerID      string  `json:"owner_id"`
	OwnerHandle  string  `json:"owner_handle,omitempty"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
	RevokedAt    *string `json:"revoked_at,omitempty"`
	RevokedBy    string  `json:"revoked_by,omitempty"`
	AccessCount  int64   `json:"access_count"`
	LastAccessAt *string `json:"last_access_at,omitempty"`
}

// ListTokensResponse is the JSON response for GET /api/admin/tokens.
type ListTokensResponse struct {
	Tokens []TokenResponse `json:"tokens"`
}

// StockResponse is the JSON response for GET /api/admin/stock.
type StockResponse struct {
	Stock int `json:"stock"`
}

// tokenResponse maps a ledger record to its API view.
func tokenResponse(t *store.Token) TokenResponse {
	resp := TokenResponse{
		Token:       t.Token,
		Login:       t.Login,
		OwnerID:     t.OwnerID,
		OwnerHandle: t.OwnerHandle,
		Status:      t.Status,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		RevokedBy:   t.RevokedBy,
		AccessCount: t.AccessCount,
	}
	if t.RevokedAt != nil {
		ts := t.RevokedAt.Format(time.RFC3339)
		resp.RevokedAt = &ts
	}
	if t.LastAccessAt != nil {
		ts := t.LastAccessAt.Format(time.RFC3339)
		resp.LastAccessAt = &ts
	}
	return resp
}

// actorFromRequest builds the issuer actor from the authenticated request.
// Behind the auth middleware the context always carries an identity; an
// empty actor simply fails the issuer's allow-list check.
func actorFromRequest(r *http.Request) issuer.Actor {
	if ac := auth.FromContext(r.Context()); ac != nil {
		return issuer.Actor{ID: ac.ActorID}
	}
	return issuer.Actor{}
}

// handleHealth handles GET /api/health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stock, err := s.store.CountUnclaimed(r.Context())
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		s.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{
		Status:  "ok",
		Version: s.version,
		Stock:   stock,
	})
}

// handleResolve handles GET /api/resolve/{token} requests from the login
// site. A successful resolve records the access.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.PathValue("token")

	token, err := s.svc.Resolve(r.Context(), tokenStr)
	if err != nil {
		s.sendAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ResolveResponse{
		Token:       token.Token,
		Login:       token.Login,
		Secret:      token.Secret,
		CreatedAt:   token.CreatedAt.Format(time.RFC3339),
		AccessCount: token.AccessCount,
	})
}

// handleIssue handles POST /api/admin/issue requests. The issued token
// belongs to the calling admin, mirroring the bot's "get" command.
func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	issued, err := s.svc.Issue(r.Context(), actorFromRequest(r))
	if err != nil {
		s.sendAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(IssueResponse{
		Token:     issued.Token.Token,
		Login:     issued.Token.Login,
		Secret:    issued.Token.Secret,
		Link:      issued.Link,
		CreatedAt: issued.Token.CreatedAt.Format(time.RFC3339),
	})
}

// handleUploadEntries handles POST /api/admin/entries requests.
func (s *Server) handleUploadEntries(w http.ResponseWriter, r *http.Request) {
	var req UploadEntriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Lines) == 0 {
		s.sendJSONError(w, http.StatusBadRequest, "lines is required")
		return
	}

	added, err := s.svc.Upload(r.Context(), actorFromRequest(r), strings.Join(req.Lines, "\n"))
	if err != nil {
		s.sendAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(UploadEntriesResponse{Added: added})
}

// handleListTokens handles GET /api/admin/tokens requests. With ?q= the
// listing becomes an owner search; otherwise ?limit= and ?active=true
// shape the newest-first list.
func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)

	if query := r.URL.Query().Get("q"); query != "" {
		tokens, err := s.svc.Search(r.Context(), actor, query)
		if err != nil {
			s.sendAPIError(w, err)
			return
		}
		s.writeTokenList(w, tokens)
		return
	}

	limit := 0 // store default applies
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			s.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	tokens, err := s.svc.List(r.Context(), actor, limit, activeOnly)
	if err != nil {
		s.sendAPIError(w, err)
		return
	}
	s.writeTokenList(w, tokens)
}

func (s *Server) writeTokenList(w http.ResponseWriter, tokens []*store.Token) {
	resp := ListTokensResponse{Tokens: make([]TokenResponse, 0, len(tokens))}
	for _, t := range tokens {
		resp.Tokens = append(resp.Tokens, tokenResponse(t))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleTokenInfo handles GET /api/admin/tokens/{token} requests.
func (s *Server) handleTokenInfo(w http.ResponseWriter, r *http.Request) {
	token, err := s.svc.Info(r.Context(), actorFromRequest(r), r.PathValue("token"))
	if err != nil {
		s.sendAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse(token))
}

// handleRevoke handles POST /api/admin/tokens/{token}/revoke requests.
// Revoking an already revoked token succeeds and returns the unchanged
// record.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	token, err := s.svc.Revoke(r.Context(), actorFromRequest(r), r.PathValue("token"))
	if err != nil {
		s.sendAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tokenResponse(token))
}

// handleStock handles GET /api/admin/stock requests.
func (s *Server) handleStock(w http.ResponseWriter, r *http.Request) {
	stock, err := s.svc.Stock(r.Context(), actorFromRequest(r))
	if err != nil {
		s.sendAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StockResponse{Stock: stock})
}

// sendAPIError maps a service error onto a status code and JSON body.
// Unexpected errors are logged and reported generically so storage details
// never reach clients.
func (s *Server) sendAPIError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.sendJSONError(w, http.StatusNotFound, "token not found")
	case errors.Is(err, store.ErrTokenRevoked):
		s.sendJSONError(w, http.StatusGone, "token revoked")
	case errors.Is(err, store.ErrNoEntries):
		s.sendJSONError(w, http.StatusConflict, "no credentials available")
	case errors.Is(err, issuer.ErrPermissionDenied):
		s.sendJSONError(w, http.StatusForbidden, "permission denied")
	case errors.Is(err, issuer.ErrMalformedUpload):
		s.sendJSONError(w, http.StatusBadRequest, "no usable credential lines")
	default:
		s.logger.Error("request failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
