package middleware

import (
	"context"

	"github.com/google/uuid"

	"github.com/angelmondragon/solverpay-backend/pkg/enums"
)

// caller is whoever authenticated the request: an account holding an API key
// or an internal service presenting a JWT. Exactly one side is set.
type caller struct {
	accountID uuid.UUID
	role      enums.ServiceRole
	subject   string
}

type callerKey struct{}

func callerFrom(ctx context.Context) caller {
	if ctx == nil {
		return caller{}
	}
	c, _ := ctx.Value(callerKey{}).(caller)
	return c
}

func withCaller(ctx context.Context, c caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, c)
}

// AccountIDFromContext returns the account resolved from the API key, or uuid.Nil.
func AccountIDFromContext(ctx context.Context) uuid.UUID { return callerFrom(ctx).accountID }

func ServiceRoleFromContext(ctx context.Context) enums.ServiceRole { return callerFrom(ctx).role }

func ServiceSubjectFromContext(ctx context.Context) string { return callerFrom(ctx).subject }

func WithAccountID(ctx context.Context, accountID uuid.UUID) context.Context {
	return withCaller(ctx, caller{accountID: accountID})
}

func withService(ctx context.Context, role enums.ServiceRole, subject string) context.Context {
	return withCaller(ctx, caller{role: role, subject: subject})
}
