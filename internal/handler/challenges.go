package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/legends-of-valor/internal/domain"
)

type createChallengeRequest struct {
	ChallengerID string `json:"challenger_id"`
	ChallengedID string `json:"challenged_id"`
}

type partyRequest struct {
	AccountID string `json:"account_id"`
}

type actionRequest struct {
	AccountID string `json:"account_id"`
	Action    string `json:"action"`
}

// redact hides the opponent's pending action from viewerID
func redact(c *domain.Challenge, viewerID string) *domain.Challenge {
	view := *c
	if c.CombatState != nil {
		view.CombatState = c.CombatState.Redacted(viewerID)
	}
	return &view
}

// CreateChallenge issues a challenge between two accounts
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req createChallengeRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	c, err := h.combat.CreateChallenge(r.Context(), req.ChallengerID, req.ChallengedID)
	if err != nil {
		h.writeDomainError(w, "create challenge", err)
		return
	}
	h.writeCreated(w, c)
}

// GetChallenge returns a challenge as seen by the account_id query parameter
func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := h.combat.GetChallenge(r.Context(), chi.URLParam(r, "challengeID"))
	if err != nil {
		h.writeDomainError(w, "get challenge", err)
		return
	}
	h.writeSuccess(w, redact(c, r.URL.Query().Get("account_id")))
}

// ListChallenges returns every challenge the account takes part in
func (h *Handler) ListChallenges(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")
	list, err := h.combat.ListChallenges(r.Context(), accountID)
	if err != nil {
		h.writeDomainError(w, "list challenges", err)
		return
	}

	out := make([]*domain.Challenge, 0, len(list))
	for i := range list {
		out = append(out, redact(&list[i], accountID))
	}
	h.writeSuccess(w, out)
}

// AcceptChallenge starts combat on a pending challenge
func (h *Handler) AcceptChallenge(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := decode(r, &req); err != nil || req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	c, err := h.combat.Accept(r.Context(), chi.URLParam(r, "challengeID"), req.AccountID)
	if err != nil {
		h.writeDomainError(w, "accept challenge", err)
		return
	}
	h.writeSuccess(w, redact(c, req.AccountID))
}

// DeclineChallenge rejects a pending challenge
func (h *Handler) DeclineChallenge(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := decode(r, &req); err != nil || req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	c, err := h.combat.Decline(r.Context(), chi.URLParam(r, "challengeID"), req.AccountID)
	if err != nil {
		h.writeDomainError(w, "decline challenge", err)
		return
	}
	h.writeSuccess(w, c)
}

// CancelChallenge withdraws a pending challenge
func (h *Handler) CancelChallenge(w http.ResponseWriter, r *http.Request) {
	var req partyRequest
	if err := decode(r, &req); err != nil || req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	c, err := h.combat.Cancel(r.Context(), chi.URLParam(r, "challengeID"), req.AccountID)
	if err != nil {
		h.writeDomainError(w, "cancel challenge", err)
		return
	}
	h.writeSuccess(w, c)
}

// GetCombat returns the combat state for polling clients
func (h *Handler) GetCombat(w http.ResponseWriter, r *http.Request) {
	cs, err := h.combat.GetCombat(r.Context(), chi.URLParam(r, "challengeID"), r.URL.Query().Get("account_id"))
	if err != nil {
		h.writeDomainError(w, "get combat", err)
		return
	}
	h.writeSuccess(w, cs)
}

// SubmitAction records one combatant's move for the current round
func (h *Handler) SubmitAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := decode(r, &req); err != nil || req.AccountID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	cs, err := h.combat.SubmitAction(r.Context(), chi.URLParam(r, "challengeID"), req.AccountID, action)
	if err != nil {
		h.writeDomainError(w, "submit action", err)
		return
	}
	h.writeSuccess(w, cs)
}
