package middleware

import "context"

// Caller is the authenticated principal behind a request. UserID is also the
// caller's wallet account id.
type Caller struct {
	UserID    string
	Role      string
	Email     string
	SessionID string
}

type callerKey struct{}

func WithCaller(ctx context.Context, caller Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, caller)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	caller, ok := ctx.Value(callerKey{}).(Caller)
	return caller, ok
}

func UserIDFromContext(ctx context.Context) string {
	caller, _ := CallerFromContext(ctx)
	return caller.UserID
}

func RoleFromContext(ctx context.Context) string {
	caller, _ := CallerFromContext(ctx)
	return caller.Role
}

func EmailFromContext(ctx context.Context) string {
	caller, _ := CallerFromContext(ctx)
	return caller.Email
}

// The With* helpers amend one field of the caller; tests and internal jobs use
// them to act as a user without a token.

func WithUserID(ctx context.Context, userID string) context.Context {
	caller, _ := CallerFromContext(ctx)
	caller.UserID = userID
	return WithCaller(ctx, caller)
}

func WithRole(ctx context.Context, role string) context.Context {
	caller, _ := CallerFromContext(ctx)
	caller.Role = role
	return WithCaller(ctx, caller)
}

func WithEmail(ctx context.Context, email string) context.Context {
	caller, _ := CallerFromContext(ctx)
	caller.Email = email
	return WithCaller(ctx, caller)
}
