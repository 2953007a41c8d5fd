package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/legends-of-valor/internal/domain"
)

type adjustGoldRequest struct {
	Delta int64 `json:"delta"`
}

// GetAccount returns an account with its effective stats
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	view, err := h.ledger.GetAccountView(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeDomainError(w, "get account", err)
		return
	}
	h.writeSuccess(w, view)
}

// AdjustGold applies a signed gold delta
func (h *Handler) AdjustGold(w http.ResponseWriter, r *http.Request) {
	var req adjustGoldRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}

	gold, err := h.ledger.AdjustGold(r.Context(), chi.URLParam(r, "accountID"), req.Delta)
	if err != nil {
		h.writeDomainError(w, "adjust gold", err)
		return
	}
	h.writeSuccess(w, map[string]int64{"gold": gold})
}

// ListSkills returns the skills an account owns
func (h *Handler) ListSkills(w http.ResponseWriter, r *http.Request) {
	skills, err := h.ledger.ListSkills(r.Context(), chi.URLParam(r, "accountID"))
	if err != nil {
		h.writeDomainError(w, "list skills", err)
		return
	}
	if skills == nil {
		skills = []domain.PlayerSkill{}
	}
	h.writeSuccess(w, skills)
}

// EquipSkill makes one owned skill the active one
func (h *Handler) EquipSkill(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.EquipSkill(r.Context(), chi.URLParam(r, "accountID"), chi.URLParam(r, "playerSkillID")); err != nil {
		h.writeDomainError(w, "equip skill", err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "equipped"})
}

// ListCatalogSkills returns every skill that can be auctioned
func (h *Handler) ListCatalogSkills(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.catalog.Skills())
}
