package auth

import "context"

type contextKey struct{}

// AuthContext is the authenticated principal of a request.
type AuthContext struct {
	UserID     int64
	IdentityID int64
	SessionID  int64
	UserName   string
}

func WithAuth(ctx context.Context, ac AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	ac, ok := ctx.Value(contextKey{}).(AuthContext)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

func SessionID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.SessionID
}

// UserName returns the display name of the current user, used as the
// recorded_by of new debriefs.
func UserName(ctx context.Context) string {
	ac, _ := FromContext(ctx)
	return ac.UserName
}
