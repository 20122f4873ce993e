// Package handlers implements the obra HTTP endpoints. Endpoints that wrap an AI
// operation answer with the llm.Result envelope; the rest answer with plain JSON.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/matiasleandrokruk/obra/internal/api/ctxkeys"
	"github.com/matiasleandrokruk/obra/internal/infra/llm"
)

const (
	defaultPaginationLimit = 25
	maxPaginationLimit     = 100

	// maxBodyBytes bounds request bodies; base64 call audio is the largest input.
	maxBodyBytes = 25 << 20
)

var (
	errMissingWorkspace = errors.New("workspace_id not found in context")
	errEmptyBody        = errors.New("request body is empty")
)

// identity is the caller the auth middleware put on the context.
type identity struct {
	WorkspaceID string
	UserID      string
}

func getIdentity(r *http.Request) (identity, error) {
	ws, ok := ctxkeys.Workspace(r.Context())
	if !ok {
		return identity{}, errMissingWorkspace
	}
	return identity{WorkspaceID: ws, UserID: ctxkeys.User(r.Context())}, nil
}

// paginationParams holds parsed limit and offset values.
type paginationParams struct {
	Limit  int
	Offset int
}

// parsePaginationParams reads limit and offset, falling back to the defaults on
// missing or malformed values.
func parsePaginationParams(r *http.Request) paginationParams {
	limit := defaultPaginationLimit
	offset := 0

	if lim, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && lim > 0 {
		limit = min(lim, maxPaginationLimit)
	}
	if off, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && off >= 0 {
		offset = off
	}
	return paginationParams{Limit: limit, Offset: offset}
}

// decodeBody decodes the JSON body into dst. Unknown fields are rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// writeJSON writes v with statusCode.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

// writeResult writes an envelope: 200 on success, 400 for INVALID_REQUEST, 502 for
// any other failure.
func writeResult[T any](w http.ResponseWriter, res llm.Result[T]) {
	writeJSON(w, resultStatus(res.Success, res.Error), res)
}

func resultStatus(success bool, err *llm.CompletionError) int {
	switch {
	case success:
		return http.StatusOK
	case err != nil && err.Code == llm.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// writeInvalid answers a malformed request to an envelope endpoint.
func writeInvalid[T any](w http.ResponseWriter, err error) {
	writeResult(w, llm.Fail[T](llm.NewError(llm.CodeInvalidRequest, err.Error(), nil), llm.Meta{}))
}
