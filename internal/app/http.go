package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"breeditor/api/internal/auth"
	"breeditor/api/internal/metrics"
	"breeditor/api/internal/rbac"
	"breeditor/api/internal/rules"
	"breeditor/api/internal/search"
	"breeditor/api/internal/util"
)

const (
	sessionCookie = "bre_session"
	stateCookie   = "bre_oauth_state"
	proofHeader   = "X-Proof-Id"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"storage": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["storage"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		metrics.Handler().ServeHTTP(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 1 && parts[0] == "auth" {
		s.handleAuth(w, r, parts)
		return
	}

	session := s.optionalSession(r)

	if len(parts) == 3 && parts[0] == "download" && parts[1] == "proof" && r.Method == http.MethodGet {
		s.handleDownload(w, r, parts[2])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "rules" {
		s.handleRules(w, r, session, parts)
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "proof" {
		s.handleProof(w, r, session, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRules(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	query := r.URL.Query()

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			category := strings.TrimSpace(query.Get("category"))
			if query.Get("view") == "raw" {
				records, err := s.service.RawRules(r.Context(), category)
				if err != nil {
					s.fail(w, err)
					return
				}
				writeJSON(w, http.StatusOK, records)
				return
			}
			projections, err := s.service.ListRules(r.Context(), category)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, projections)
			return
		case http.MethodPost:
			if !s.require(w, session, rbac.ActionWrite) {
				return
			}
			var edit rules.Edit
			if err := decodeBody(r, &edit); err != nil {
				writeBodyError(w, err)
				return
			}
			result, err := s.service.CreateRule(r.Context(), session, proofID(r), edit)
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, result)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	if len(parts) != 3 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[2] == "categories" && r.Method == http.MethodGet:
		categories, err := s.service.Categories(r.Context())
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, categories)
		return

	case parts[2] == "search" && r.Method == http.MethodGet:
		limit, _ := strconv.Atoi(query.Get("limit"))
		offset, _ := strconv.Atoi(query.Get("offset"))
		if offset < 0 {
			offset = 0
		}
		writeJSON(w, http.StatusOK, s.service.SearchRules(search.Query{
			Text:     strings.TrimSpace(query.Get("q")),
			Category: strings.TrimSpace(query.Get("category")),
			Limit:    limit,
			Offset:   offset,
		}))
		return

	case parts[2] == "threshold" && r.Method == http.MethodPost:
		if !s.require(w, session, rbac.ActionWrite) {
			return
		}
		var body ThresholdInput
		if err := decodeBody(r, &body); err != nil {
			writeBodyError(w, err)
			return
		}
		result, err := s.service.CreateThresholdRule(r.Context(), session, proofID(r), body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
		return

	case parts[2] == "import" && r.Method == http.MethodPost:
		if !s.require(w, session, rbac.ActionWrite) {
			return
		}
		doc, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUploadBytes()))
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read body", nil)
			return
		}
		result, err := s.service.ImportRules(r.Context(), session, proofID(r), doc)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	ruleID := parts[2]
	switch r.Method {
	case http.MethodGet:
		record, err := s.service.GetRule(r.Context(), ruleID)
		if err != nil {
			s.fail(w, err)
			return
		}
		if query.Get("view") == "raw" {
			writeJSON(w, http.StatusOK, record)
			return
		}
		writeJSON(w, http.StatusOK, rules.Project(record))

	case http.MethodPost:
		if !s.require(w, session, rbac.ActionWrite) {
			return
		}
		var edit rules.Edit
		if err := decodeBody(r, &edit); err != nil {
			writeBodyError(w, err)
			return
		}
		result, err := s.service.UpdateRule(r.Context(), session, proofID(r), ruleID, edit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	case http.MethodDelete:
		if !s.require(w, session, rbac.ActionWrite) {
			return
		}
		result, err := s.service.DeleteRule(r.Context(), session, proofID(r), ruleID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleProof(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodPost {
		if !s.require(w, session, rbac.ActionUpload) {
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
		file, header, err := r.FormFile("proofFile")
		if err != nil {
			writeError(w, http.StatusBadRequest, "PAYLOAD_ERROR", "proofFile is required", nil)
			return
		}
		defer file.Close()
		entry, err := s.service.UploadProof(r.Context(), session, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  "File uploaded successfully",
			"metadata": entry,
		})
		return
	}

	if len(parts) == 3 && parts[2] == "metadata" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		entries, err := s.service.ProofUploads(r.Context(), limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
		return
	}

	if len(parts) == 3 && parts[2] == "snapshot" && r.Method == http.MethodPost {
		if !s.require(w, session, rbac.ActionWrite) {
			return
		}
		var body SnapshotInput
		if err := decodeBody(r, &body); err != nil {
			writeBodyError(w, err)
			return
		}
		info, err := s.service.SaveSnapshot(r.Context(), session, body)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":  fmt.Sprintf("Snapshot saved for %s", info.ProofID),
			"snapshot": info,
		})
		return
	}

	if len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = 50
		}
		history, err := s.service.SnapshotHistory(parts[2], limit)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"proofId": parts[2], "items": history})
		return
	}

	if len(parts) == 5 && parts[3] == "history" && r.Method == http.MethodGet {
		data, err := s.service.SnapshotRevision(parts[2], parts[4])
		if err != nil {
			s.fail(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleDownload(w http.ResponseWriter, r *http.Request, name string) {
	download, err := s.service.OpenDownload(r.Context(), name)
	if err != nil {
		s.fail(w, err)
		return
	}
	defer download.Body.Close()

	w.Header().Set("Content-Type", download.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", download.Name))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, download.Body); err != nil {
		log.Printf("download %s: %v", name, err)
	}
}

func (s *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request, parts []string) {
	route := strings.Join(parts[1:], "/")

	switch {
	case route == "google" && r.Method == http.MethodGet:
		state := util.NewID("st")
		target, err := s.service.GoogleAuthURL(state)
		if err != nil {
			s.fail(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     stateCookie,
			Value:    state,
			Path:     "/auth",
			MaxAge:   600,
			HttpOnly: true,
			Secure:   s.service.cfg.SecureCookies,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, target, http.StatusFound)

	case route == "google/callback" && r.Method == http.MethodGet:
		cookie, err := r.Cookie(stateCookie)
		if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
			writeError(w, http.StatusBadRequest, "INVALID_STATE", "Login state mismatch", nil)
			return
		}
		s.clearCookie(w, stateCookie, "/auth")
		session, err := s.service.CompleteGoogleLogin(r.Context(), r.URL.Query().Get("code"))
		if err != nil {
			log.Printf("google login failed: %v", err)
			http.Redirect(w, r, s.service.cfg.LoginRedirect, http.StatusFound)
			return
		}
		s.setSessionCookie(w, session)
		http.Redirect(w, r, s.service.cfg.LoginRedirect, http.StatusFound)

	case route == "dev-login" && r.Method == http.MethodPost:
		var body struct {
			Name  string `json:"name"`
			Email string `json:"email" validate:"required,email"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeBodyError(w, err)
			return
		}
		if err := s.service.validate.Struct(body); err != nil {
			s.fail(w, validationDetails(err))
			return
		}
		session, err := s.service.DevLogin(r.Context(), body.Name, body.Email)
		if err != nil {
			s.fail(w, err)
			return
		}
		s.setSessionCookie(w, session)
		writeJSON(w, http.StatusOK, map[string]any{
			"name":  session.Name,
			"email": session.Email,
			"id":    session.UserID,
			"token": session.Token,
		})

	case route == "logout" && r.Method == http.MethodGet:
		if session := s.optionalSession(r); session.Authenticated() {
			if err := s.service.Logout(r.Context(), session); err != nil {
				log.Printf("logout: %v", err)
			}
		}
		s.clearCookie(w, sessionCookie, "/")
		http.Redirect(w, r, s.service.cfg.LoginRedirect, http.StatusFound)

	case route == "user" && r.Method == http.MethodGet:
		session := s.optionalSession(r)
		if !session.Authenticated() {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Not logged in"})
			return
		}
		payload := map[string]any{
			"name":  session.Name,
			"email": session.Email,
			"id":    session.UserID,
		}
		if session.ActiveProof != "" {
			payload["activeProof"] = session.ActiveProof
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// optionalSession resolves the caller from the session cookie or a bearer
// token. Any failure yields an anonymous session.
func (s *HTTPServer) optionalSession(r *http.Request) Session {
	token := bearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		return Session{}
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidToken) && !errors.Is(err, auth.ErrExpiredToken) {
			log.Printf("session lookup failed: %v", err)
		}
		return Session{}
	}
	return session
}

// require writes 401 for anonymous callers and 403 for callers whose role
// lacks action.
func (s *HTTPServer) require(w http.ResponseWriter, session Session, action rbac.Action) bool {
	if s.service.Can(session.Role(), action) {
		return true
	}
	if !session.Authenticated() {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Sign in to make changes", nil)
		return false
	}
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	return false
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, session Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   s.service.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.service.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) maxUploadBytes() int64 {
	if s.service.cfg.MaxUploadBytes > 0 {
		return s.service.cfg.MaxUploadBytes
	}
	return 20 << 20
}

func proofID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(proofHeader))
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Proof-Id")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is required")
		}
		if errors.Is(err, rules.ErrNotObject) {
			return payloadError(err.Error())
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// writeBodyError reports a decodeBody failure. Payload problems keep their
// own code, everything else is INVALID_BODY.
func writeBodyError(w http.ResponseWriter, err error) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		writeError(w, domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details)
		return
	}
	writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func contentTypeFor(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
