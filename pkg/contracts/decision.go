package contracts

import "time"

// Verdict is a terminal decision value. The kernel produces only PERMIT and
// DENY; ALLOW and ESCALATE come from the upstream governance evaluator,
// which grants nothing — an ALLOW still has to pass acceptance verification
// before any PERMIT exists.
type Verdict string

const (
	VerdictPermit   Verdict = "PERMIT"
	VerdictDeny     Verdict = "DENY"
	VerdictAllow    Verdict = "ALLOW"
	VerdictEscalate Verdict = "ESCALATE"
)

// ReasonCode is a stable, enumerable identifier explaining an outcome.
// These are part of the external contract: analytics and audit tooling key
// on them, so they never change meaning.
type ReasonCode string

const (
	ReasonInvalidRequest        ReasonCode = "invalid_or_missing_request"
	ReasonInvalidAcceptance     ReasonCode = "invalid_or_missing_acceptance"
	ReasonOutsideTimeWindow     ReasonCode = "acceptance_not_in_valid_time_window"
	ReasonInvalidWindow         ReasonCode = "invalid_acceptance_window"
	ReasonActorMismatch         ReasonCode = "actor_binding_mismatch"
	ReasonIntentMismatch        ReasonCode = "intent_binding_mismatch"
	ReasonUnknownAuthorityKey   ReasonCode = "unknown_or_inactive_authority_key"
	ReasonKeyOutsideValidity    ReasonCode = "authority_key_outside_validity_window"
	ReasonInvalidSignature      ReasonCode = "invalid_acceptance_signature"
	ReasonUntrustedIssuer       ReasonCode = "untrusted_acceptance_issuer"
	ReasonReplayDetected        ReasonCode = "acceptance_replay_detected"
	ReasonLedgerWriteFailed     ReasonCode = "ledger_write_failed"
	ReasonDependencyUnavailable ReasonCode = "decision_dependency_unavailable"
	ReasonUnsupportedAlgorithm  ReasonCode = "unsupported_acceptance_algorithm"
	ReasonAcceptanceVerified    ReasonCode = "acceptance_verified"
	ReasonEscalationRequired    ReasonCode = "escalation_required"
	ReasonGovernanceRuleDenied  ReasonCode = "governance_rule_denied"
	ReasonGovernanceRuleAllowed ReasonCode = "governance_rule_allowed"
)

// Decision is the kernel's transient output. It is not persisted beyond the
// ledger entry it corresponds to.
type Decision struct {
	Decision    Verdict    `json:"decision"`
	ReasonCode  ReasonCode `json:"reasonCode"`
	IntentHash  string     `json:"intentHash,omitempty"`
	ExecuteHash string     `json:"executeHash,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
}

// Deny builds a DENY decision with the given reason.
func Deny(reason ReasonCode) Decision {
	return Decision{Decision: VerdictDeny, ReasonCode: reason}
}
