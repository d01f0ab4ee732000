package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/arbiter-systems/arbiter/pkg/contracts"
	"github.com/arbiter-systems/arbiter/pkg/governance"
	"github.com/arbiter-systems/arbiter/pkg/kernel"
	"github.com/arbiter-systems/arbiter/pkg/ledger"
	"github.com/arbiter-systems/arbiter/pkg/pacing"
)

// maxBodyBytes bounds request bodies; execution payloads are references,
// not bulk data.
const maxBodyBytes = 1 << 20

// Server wires the kernel and its collaborators to HTTP routes.
type Server struct {
	kernel    *kernel.Kernel
	evaluator *governance.Evaluator
	ledger    ledger.Ledger
	pacing    *pacing.Analyzer
	log       *slog.Logger
	ready     func() error
}

// NewServer builds the server. evaluator may be nil when no governance
// rules are deployed; ready reports readiness for /readyz (nil means
// always ready).
func NewServer(k *kernel.Kernel, ev *governance.Evaluator, led ledger.Ledger, log *slog.Logger, ready func() error) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{kernel: k, evaluator: ev, ledger: led, pacing: pacing.New(), log: log, ready: ready}
}

// Routes returns the route table without middleware.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/decide", s.handleDecide)
	mux.HandleFunc("POST /v1/evaluate", s.handleEvaluate)
	mux.HandleFunc("GET /v1/ledger/entries", s.handleLedgerEntries)
	mux.HandleFunc("GET /v1/ledger/verify", s.handleLedgerVerify)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	return mux
}

type decideRequest struct {
	ContractVersion  string                `json:"contractVersion,omitempty"`
	Intent           *contracts.Intent     `json:"intent"`
	ExecutionPayload json.RawMessage       `json:"executionPayload"`
	Acceptance       *contracts.Acceptance `json:"acceptance"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.denyInvalid(w, r, decideRequest{}, "unreadable body")
		return
	}

	var req decideRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.denyInvalid(w, r, decideRequest{}, "body is not valid JSON")
		return
	}
	if err := contracts.CheckContractVersion(req.ContractVersion); err != nil {
		// Version negotiation is a protocol mismatch, not a decision input;
		// the caller is speaking a contract this build does not.
		WriteBadRequest(w, r, err.Error())
		return
	}
	if err := validateBody(decideSchema, raw); err != nil {
		s.denyInvalid(w, r, req, err.Error())
		return
	}

	decision := s.kernel.Decide(r.Context(), kernel.Request{
		Intent:     req.Intent,
		Execute:    &contracts.ExecutionPayload{Raw: req.ExecutionPayload},
		Acceptance: req.Acceptance,
	})

	// Both verdicts are successful API calls; the decision itself carries
	// the outcome.
	WriteJSON(w, http.StatusOK, decision)
}

// denyInvalid answers an input error the way the kernel would: a DENY
// decision over HTTP 200, ledgered best-effort. Transport-level problem
// details are reserved for failures that are not decision inputs.
func (s *Server) denyInvalid(w http.ResponseWriter, r *http.Request, req decideRequest, detail string) {
	s.log.Debug("decide request rejected at boundary", "detail", detail)

	rec := ledger.Record{
		Decision:   contracts.VerdictDeny,
		ReasonCode: contracts.ReasonInvalidRequest,
	}
	if req.Intent != nil {
		rec.ActorID = req.Intent.ActorID
		rec.ActionName = req.Intent.ActionName
	}
	if _, err := s.ledger.Append(r.Context(), rec); err != nil {
		s.log.Warn("deny entry not recorded", "error", err,
			"reasonCode", contracts.ReasonInvalidRequest)
	}

	WriteJSON(w, http.StatusOK, contracts.Deny(contracts.ReasonInvalidRequest))
}

type evaluateRequest struct {
	Intent *contracts.Intent `json:"intent"`
}

type evaluateResponse struct {
	Decision   contracts.Verdict    `json:"decision"`
	ReasonCode contracts.ReasonCode `json:"reasonCode"`
	RuleName   string               `json:"ruleName,omitempty"`
	// Pacing is the advisory pressure-language signal over the intent's
	// context; it never changes the decision.
	Pacing pacing.Signal `json:"pacing"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if s.evaluator == nil {
		WriteError(w, r, http.StatusNotImplemented, "Not Implemented", "no governance rules deployed")
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		WriteBadRequest(w, r, "unreadable body")
		return
	}
	if err := validateBody(evaluateSchema, raw); err != nil {
		WriteBadRequest(w, r, err.Error())
		return
	}

	var req evaluateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		WriteBadRequest(w, r, "malformed request: "+err.Error())
		return
	}

	out := s.evaluator.Evaluate(r.Context(), req.Intent)
	resp := evaluateResponse{
		Decision:   out.Verdict,
		ReasonCode: out.ReasonCode,
		RuleName:   out.RuleName,
	}
	if req.Intent != nil {
		resp.Pacing = s.pacing.AnalyzeContext(req.Intent.Context)
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	after := uint64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			WriteBadRequest(w, r, "after must be a sequence number")
			return
		}
		after = n
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			WriteBadRequest(w, r, "limit must be 1..1000")
			return
		}
		limit = n
	}

	entries, err := s.ledger.Entries(r.Context(), after, limit)
	if err != nil {
		s.log.Error("ledger read failed", "error", err)
		WriteInternal(w, r)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleLedgerVerify(w http.ResponseWriter, r *http.Request) {
	// Full-chain verification walks from genesis; it is an operator
	// endpoint, not a hot path.
	entries, err := s.ledger.Entries(r.Context(), 0, 0)
	if err != nil {
		s.log.Error("ledger read failed", "error", err)
		WriteInternal(w, r)
		return
	}
	if err := ledger.VerifyChain(entries); err != nil {
		WriteJSON(w, http.StatusOK, map[string]any{
			"valid":   false,
			"entries": len(entries),
			"error":   err.Error(),
		})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"valid": true, "entries": len(entries)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(); err != nil {
			WriteError(w, r, http.StatusServiceUnavailable, "Not Ready", err.Error())
			return
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
