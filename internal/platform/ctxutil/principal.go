package ctxutil

import "context"

type Role string

const (
	RoleLearner    Role = "learner"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

type Capability string

const (
	CapTrackTelemetry      Capability = "telemetry:write"
	CapReadRecommendations Capability = "recommendations:read"
	CapReadContent         Capability = "content:read"
	CapEvaluateLearners    Capability = "recommendations:evaluate"
)

var roleCapabilities = map[Role][]Capability{
	RoleLearner:    {CapTrackTelemetry, CapReadRecommendations, CapReadContent},
	RoleInstructor: {CapEvaluateLearners},
	RoleAdmin:      {CapEvaluateLearners},
}

// Principal is the authenticated caller. The external identity service issues it;
// the ALE only reads it.
type Principal struct {
	LearnerID     int64
	Role          Role
	InstitutionID int64
}

func (p *Principal) Can(c Capability) bool {
	if p == nil {
		return false
	}
	for _, have := range roleCapabilities[p.Role] {
		if have == c {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(Default(ctx), principalKey{}, p)
}

func GetPrincipal(ctx context.Context) *Principal {
	if ctx == nil {
		return nil
	}
	if p, ok := ctx.Value(principalKey{}).(*Principal); ok {
		return p
	}
	return nil
}
