package grpcserver

import (
	"context"

	"github.com/DongNguyen06/lib-v2/internal/model"
)

type ctxKey string

const principalKey ctxKey = "lending.principal"

// WithPrincipal stores the authenticated caller in context.
func WithPrincipal(ctx context.Context, p *model.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromCtx fetches the caller; nil for guests.
func PrincipalFromCtx(ctx context.Context) *model.Principal {
	p, _ := ctx.Value(principalKey).(*model.Principal)
	return p
}
