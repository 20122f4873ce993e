// Package ctxkeys holds the request context values shared by the API middleware
// and handlers. It is a leaf package so both can import it.
package ctxkeys

import "context"

type key int

const (
	workspaceKey key = iota
	userKey
)

// WithIdentity stores the authenticated user and workspace on ctx.
func WithIdentity(ctx context.Context, userID, workspaceID string) context.Context {
	ctx = context.WithValue(ctx, userKey, userID)
	return context.WithValue(ctx, workspaceKey, workspaceID)
}

// Workspace returns the workspace of the request. ok is false when it is missing
// or empty.
func Workspace(ctx context.Context) (string, bool) {
	ws, ok := ctx.Value(workspaceKey).(string)
	return ws, ok && ws != ""
}

// User returns the authenticated user, or "".
func User(ctx context.Context) string {
	u, _ := ctx.Value(userKey).(string)
	return u
}
