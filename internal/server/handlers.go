package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
	"github.com/danielpatrickdp/learner-state/internal/apply"
	"github.com/danielpatrickdp/learner-state/internal/decision"
	"github.com/danielpatrickdp/learner-state/internal/signallog"
	"github.com/danielpatrickdp/learner-state/internal/state"
)

// #region handlers

// Handlers fronts the components over HTTP. Each handler binds, delegates,
// and renders; no business rules live here.
type Handlers struct {
	signals   *signallog.Store
	states    *state.Store
	coord     *apply.Coordinator
	generator *decision.Generator
	decisions *decision.Store
}

// NewHandlers wires the HTTP handlers over their components.
func NewHandlers(signals *signallog.Store, states *state.Store, coord *apply.Coordinator,
	generator *decision.Generator, decisions *decision.Store) *Handlers {
	return &Handlers{
		signals:   signals,
		states:    states,
		coord:     coord,
		generator: generator,
		decisions: decisions,
	}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// #endregion handlers

// #region signals

type acceptSignalRequest struct {
	SignalID   string         `json:"signal_id"`
	SignalType string         `json:"signal_type"`
	Payload    map[string]any `json:"payload"`
	AcceptedAt time.Time      `json:"accepted_at"`
}

type signalResponse struct {
	SignalID   string         `json:"signal_id"`
	Org        string         `json:"org"`
	Learner    string         `json:"learner"`
	SignalType string         `json:"signal_type"`
	Payload    map[string]any `json:"payload"`
	AcceptedAt time.Time      `json:"accepted_at"`
}

// AcceptSignal appends a signal to the log. Replaying an already-accepted
// signal id returns the stored signal with 200 instead of 201.
func (h *Handlers) AcceptSignal(c *gin.Context) {
	var req acceptSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.New(apperr.CodeValidation, "", "malformed request body"))
		return
	}

	sig, created, err := h.signals.Accept(c.Request.Context(),
		c.Param("org"), c.Param("learner"),
		req.SignalID, req.SignalType, req.Payload, req.AcceptedAt)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, signalResponse{
		SignalID:   sig.ID,
		Org:        sig.Org,
		Learner:    sig.Learner,
		SignalType: sig.Type,
		Payload:    sig.Payload,
		AcceptedAt: sig.AcceptedAt,
	})
}

// #endregion signals

// #region state

type applyStateRequest struct {
	SignalIDs   []string  `json:"signal_ids"`
	RequestedAt time.Time `json:"requested_at"`
}

// ApplyState folds accepted signals into the learner's state.
func (h *Handlers) ApplyState(c *gin.Context) {
	var req applyStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.New(apperr.CodeValidation, "", "malformed request body"))
		return
	}

	out, err := h.coord.Apply(c.Request.Context(), apply.Request{
		Org:         c.Param("org"),
		Learner:     c.Param("learner"),
		SignalIDs:   req.SignalIDs,
		RequestedAt: req.RequestedAt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type stateResponse struct {
	Org          string           `json:"org"`
	Learner      string           `json:"learner"`
	StateID      string           `json:"state_id"`
	StateVersion int64            `json:"state_version"`
	State        map[string]any   `json:"state"`
	Provenance   state.Provenance `json:"provenance"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// GetState returns the learner's current state snapshot.
func (h *Handlers) GetState(c *gin.Context) {
	org, learner := c.Param("org"), c.Param("learner")

	rec, err := h.states.GetCurrent(c.Request.Context(), org, learner)
	if err != nil {
		respondError(c, err)
		return
	}
	if rec == nil {
		respondError(c, apperr.New(apperr.CodeNotFound, "learner",
			"no state for learner %q", learner))
		return
	}

	c.JSON(http.StatusOK, stateResponse{
		Org:          rec.Org,
		Learner:      rec.Learner,
		StateID:      rec.StateID(),
		StateVersion: rec.Version,
		State:        rec.State,
		Provenance:   rec.Provenance,
		UpdatedAt:    rec.UpdatedAt,
	})
}

// #endregion state

// #region decisions

type createDecisionRequest struct {
	StateID      string         `json:"state_id"`
	StateVersion int64          `json:"state_version"`
	RequestedAt  time.Time      `json:"requested_at"`
	Context      map[string]any `json:"context"`
}

// CreateDecision evaluates the learner's current state against the policy.
func (h *Handlers) CreateDecision(c *gin.Context) {
	var req createDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.New(apperr.CodeValidation, "", "malformed request body"))
		return
	}

	dec, err := h.generator.Evaluate(c.Request.Context(), decision.Request{
		Org:          c.Param("org"),
		Learner:      c.Param("learner"),
		StateID:      req.StateID,
		StateVersion: req.StateVersion,
		RequestedAt:  req.RequestedAt,
		Context:      req.Context,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dec)
}

type listDecisionsResponse struct {
	Decisions     []decision.Decision `json:"decisions"`
	NextPageToken string              `json:"next_page_token"`
}

// ListDecisions pages through a learner's decisions in decided-at order.
func (h *Handlers) ListDecisions(c *gin.Context) {
	q := decision.Query{
		Org:       c.Param("org"),
		Learner:   c.Param("learner"),
		PageToken: c.Query("page_token"),
	}

	errs := apperr.List{}
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			errs.Add(apperr.CodeValidation, "from", "from must be RFC3339")
		}
		q.From = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			errs.Add(apperr.CodeValidation, "to", "to must be RFC3339")
		}
		q.To = t
	}
	if raw := c.Query("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs.Add(apperr.CodeValidation, "page_size", "page_size must be an integer")
		}
		q.PageSize = n
	}
	if err := errs.Err(); err != nil {
		respondError(c, err)
		return
	}

	decisions, next, err := h.decisions.List(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}
	if decisions == nil {
		decisions = []decision.Decision{}
	}
	c.JSON(http.StatusOK, listDecisionsResponse{Decisions: decisions, NextPageToken: next})
}

// #endregion decisions

// #region envelope

type wireError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Errors []wireError `json:"errors"`
}

// respondError renders the classified error envelope. Unclassified errors
// are internal: the detail goes to the request log, not the wire.
func respondError(c *gin.Context, err error) {
	c.Error(err)

	flat := apperr.Flatten(err)
	if len(flat) == 0 {
		c.JSON(http.StatusInternalServerError, errorEnvelope{
			Errors: []wireError{{Code: "INTERNAL", Message: "internal error"}},
		})
		return
	}

	wire := make([]wireError, len(flat))
	for i, e := range flat {
		wire[i] = wireError{Code: string(e.Code), Field: e.Field, Message: e.Detail()}
	}
	c.JSON(flat[0].Code.HTTPStatus(), errorEnvelope{Errors: wire})
}

// #endregion envelope
