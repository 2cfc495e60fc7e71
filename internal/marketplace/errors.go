package marketplace

import "github.com/karmacadabra/agent/internal/kerrors"

// MissingEvidenceRequired rejects a create_task call with an empty
// evidence_required set before it leaves the process, per spec §4.3.
func MissingEvidenceRequired() *kerrors.AgentError {
	return kerrors.New(kerrors.KindInvariant, "evidence_required must be non-empty")
}

// BelowMinimumBounty rejects a create_task call under the client-side floor.
func BelowMinimumBounty(bounty, minimum int64) *kerrors.AgentError {
	return kerrors.New(kerrors.KindInvariant, "bounty is below the configured minimum").
		WithDetail("bounty", bounty).
		WithDetail("minimum", minimum)
}

// MalformedEvidenceShape rejects a submit() payload whose evidence mapping
// isn't keyed by known evidence kinds with non-empty payloads.
func MalformedEvidenceShape(kind string) *kerrors.AgentError {
	return kerrors.New(kerrors.KindInvariant, "evidence payload has an unrecognized or empty shape").
		WithDetail("kind", kind)
}
