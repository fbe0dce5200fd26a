package driveapi

import "context"

// FuncTokenSource adapts any access-token getter (internal/tokencache's
// Cache.GetAccessToken, closed over its drive-config id and exchanger) to
// the driveapi.TokenSource interface. Kept as a plain function wrapper
// rather than an interface duplicating tokencache's shape, since the two
// packages otherwise have no reason to know about each other.
type FuncTokenSource func(ctx context.Context) (string, error)

// Token implements driveapi.TokenSource.
func (f FuncTokenSource) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
