package authz

import "context"

// AccessLevel names a required permission on a resource.
type AccessLevel string

const (
	LevelRead  AccessLevel = "read"
	LevelWrite AccessLevel = "write"
	LevelAdmin AccessLevel = "admin"
)

// AccessChecker is the authorization decision point. Policy evaluation is
// externally owned; the engine only consumes the verdict.
type AccessChecker interface {
	CheckAccess(ctx context.Context, resourceID, caller string, levels ...AccessLevel) (bool, error)
}

// AllowAll grants every request; for local runs and tests.
type AllowAll struct{}

func (AllowAll) CheckAccess(ctx context.Context, resourceID, caller string, levels ...AccessLevel) (bool, error) {
	return true, nil
}

// DenyAll refuses every request.
type DenyAll struct{}

func (DenyAll) CheckAccess(ctx context.Context, resourceID, caller string, levels ...AccessLevel) (bool, error) {
	return false, nil
}
