// Package kernel is the execution authority decision point. Decide takes
// {intent, execution payload, acceptance} and returns PERMIT or DENY.
//
// The kernel is fail-closed: any verification failure, storage error,
// timeout, or panic yields DENY. PERMIT additionally requires that the
// decision was durably recorded in the ledger; the ledger write is part of
// the decision, not an afterthought.
package kernel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/arbiter-systems/arbiter/pkg/contracts"
	"github.com/arbiter-systems/arbiter/pkg/ledger"
	"github.com/arbiter-systems/arbiter/pkg/replayguard"
	"github.com/arbiter-systems/arbiter/pkg/verify"
)

// Options bound the kernel's external calls.
type Options struct {
	// DecideTimeout caps one full Decide run, storage included.
	DecideTimeout time.Duration
}

// DefaultOptions mirror the deployment defaults.
func DefaultOptions() Options {
	return Options{DecideTimeout: 5 * time.Second}
}

// Observer is notified around each decision; the returned func receives
// the final verdict. Used for tracing and metrics.
type Observer func(ctx context.Context, actionName string) (context.Context, func(contracts.Decision))

// Kernel wires the verifier, replay guard, and ledger into the decision
// procedure.
type Kernel struct {
	opts     Options
	verifier *verify.Verifier
	guard    replayguard.Guard
	ledger   ledger.Ledger
	log      *slog.Logger
	clock    func() time.Time
	observer Observer
}

// New assembles a kernel. All three collaborators are required.
func New(opts Options, verifier *verify.Verifier, guard replayguard.Guard, led ledger.Ledger, log *slog.Logger) *Kernel {
	if opts.DecideTimeout <= 0 {
		opts.DecideTimeout = DefaultOptions().DecideTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Kernel{
		opts:     opts,
		verifier: verifier,
		guard:    guard,
		ledger:   led,
		log:      log,
		clock:    time.Now,
	}
}

// WithClock overrides the clock for tests.
func (k *Kernel) WithClock(clock func() time.Time) *Kernel {
	k.clock = clock
	return k
}

// WithObserver attaches a decision observer.
func (k *Kernel) WithObserver(obs Observer) *Kernel {
	k.observer = obs
	return k
}

// Request is one decision input triple.
type Request struct {
	Intent     *contracts.Intent           `json:"intent"`
	Execute    *contracts.ExecutionPayload `json:"executionPayload"`
	Acceptance *contracts.Acceptance       `json:"acceptance"`
}

// Decide runs the decision procedure:
//
//  1. verify the acceptance against intent and payload (all gates);
//  2. atomically reserve the acceptance hash against replay;
//  3. record the PERMIT in the ledger; only a durable entry makes the
//     PERMIT real.
//
// DENY outcomes are ledgered best-effort: a failed DENY write is logged
// but does not change the verdict, which is already the safe one.
func (k *Kernel) Decide(ctx context.Context, req Request) (decision contracts.Decision) {
	ctx, cancel := context.WithTimeout(ctx, k.opts.DecideTimeout)
	defer cancel()

	if k.observer != nil {
		action := ""
		if req.Intent != nil {
			action = req.Intent.ActionName
		}
		var done func(contracts.Decision)
		ctx, done = k.observer(ctx, action)
		defer func() { done(decision) }()
	}

	// A panic anywhere below must come out as a denial, not a crash of the
	// caller's request path.
	defer func() {
		if r := recover(); r != nil {
			k.log.Error("kernel panic recovered", "panic", r)
			decision = contracts.Deny(contracts.ReasonInvalidRequest)
		}
	}()

	res := k.verifier.Verify(ctx, req.Intent, req.Execute, req.Acceptance)
	if !res.OK {
		d := contracts.Deny(res.Reason)
		d.IntentHash = res.IntentHash
		d.ExecuteHash = res.ExecuteHash
		k.recordDeny(ctx, req, res, res.Reason)
		return d
	}

	// Replay reservation happens before the ledger write so two racing
	// requests cannot both reach PERMIT recording.
	if err := k.guard.Reserve(ctx, res.AcceptanceHash, req.Acceptance.ExpiresAt); err != nil {
		reason := contracts.ReasonReplayDetected
		if !errors.Is(err, replayguard.ErrAlreadyUsed) {
			// Store outage: fail closed, and name the failing dependency
			// rather than blaming the ledger.
			k.log.Error("replay guard unavailable", "error", err)
			reason = contracts.ReasonDependencyUnavailable
		}
		d := contracts.Deny(reason)
		d.IntentHash = res.IntentHash
		d.ExecuteHash = res.ExecuteHash
		k.recordDeny(ctx, req, res, reason)
		return d
	}

	entry, err := k.ledger.Append(ctx, ledger.Record{
		Decision:       contracts.VerdictPermit,
		ReasonCode:     contracts.ReasonAcceptanceVerified,
		IntentHash:     res.IntentHash,
		ExecuteHash:    res.ExecuteHash,
		AcceptanceHash: res.AcceptanceHash,
		ActorID:        req.Intent.ActorID,
		ActionName:     req.Intent.ActionName,
	})
	if err != nil {
		// The acceptance hash stays reserved: the caller saw a DENY, and
		// re-submitting the same acceptance after a storage blip would
		// otherwise double-spend it.
		k.log.Error("ledger write failed, denying", "error", err,
			"acceptanceHash", res.AcceptanceHash)
		d := contracts.Deny(contracts.ReasonLedgerWriteFailed)
		d.IntentHash = res.IntentHash
		d.ExecuteHash = res.ExecuteHash
		return d
	}

	k.log.Info("permit issued",
		"actorId", req.Intent.ActorID,
		"actionName", req.Intent.ActionName,
		"sequence", entry.Sequence,
		"acceptanceHash", res.AcceptanceHash)

	expires := req.Acceptance.ExpiresAt
	return contracts.Decision{
		Decision:    contracts.VerdictPermit,
		ReasonCode:  contracts.ReasonAcceptanceVerified,
		IntentHash:  res.IntentHash,
		ExecuteHash: res.ExecuteHash,
		ExpiresAt:   &expires,
	}
}

// recordDeny appends a DENY entry best-effort. Denials are already safe;
// losing one is an observability gap, not a correctness hole.
func (k *Kernel) recordDeny(ctx context.Context, req Request, res verify.Result, reason contracts.ReasonCode) {
	rec := ledger.Record{
		Decision:       contracts.VerdictDeny,
		ReasonCode:     reason,
		IntentHash:     res.IntentHash,
		ExecuteHash:    res.ExecuteHash,
		AcceptanceHash: res.AcceptanceHash,
	}
	if req.Intent != nil {
		rec.ActorID = req.Intent.ActorID
		rec.ActionName = req.Intent.ActionName
	}
	if _, err := k.ledger.Append(ctx, rec); err != nil {
		k.log.Warn("deny entry not recorded", "error", err, "reasonCode", reason)
	}
}
