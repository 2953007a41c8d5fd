package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/legends-of-valor/internal/domain"
)

type queueAuctionRequest struct {
	SkillID string `json:"skill_id"`
}

type bidRequest struct {
	BidderID string `json:"bidder_id"`
	Amount   int64  `json:"amount"`
}

// QueueAuction adds a skill auction to the queue
func (h *Handler) QueueAuction(w http.ResponseWriter, r *http.Request) {
	var req queueAuctionRequest
	if err := decode(r, &req); err != nil || req.SkillID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	a, err := h.auctions.Queue(r.Context(), req.SkillID)
	if err != nil {
		h.writeDomainError(w, "queue auction", err)
		return
	}
	h.writeCreated(w, a)
}

// ListQueuedAuctions returns the queued auctions, oldest first
func (h *Handler) ListQueuedAuctions(w http.ResponseWriter, r *http.Request) {
	list, err := h.auctions.Queued(r.Context())
	if err != nil {
		h.writeDomainError(w, "list auctions", err)
		return
	}
	h.writeSuccess(w, list)
}

// GetActiveAuction returns the snapshot of the running auction
func (h *Handler) GetActiveAuction(w http.ResponseWriter, r *http.Request) {
	snap, err := h.auctions.ActiveSnapshot(r.Context())
	if err != nil {
		h.writeDomainError(w, "active auction", err)
		return
	}
	h.writeSuccess(w, snap)
}

// GetAuction returns an auction snapshot
func (h *Handler) GetAuction(w http.ResponseWriter, r *http.Request) {
	snap, err := h.auctions.Snapshot(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		h.writeDomainError(w, "get auction", err)
		return
	}
	h.writeSuccess(w, snap)
}

// ActivateAuction opens a queued auction for bidding
func (h *Handler) ActivateAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Activate(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		h.writeDomainError(w, "activate auction", err)
		return
	}
	h.writeSuccess(w, a)
}

// PlaceBid escrows a bid against an active auction
func (h *Handler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	var req bidRequest
	if err := decode(r, &req); err != nil || req.BidderID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}
	if !h.limiter.Allow(req.BidderID) {
		h.writeError(w, http.StatusTooManyRequests, domain.ErrRateLimited)
		return
	}

	auctionID := chi.URLParam(r, "auctionID")
	bid, err := h.auctions.PlaceBid(r.Context(), auctionID, req.BidderID, req.Amount)
	if err != nil {
		h.writeDomainError(w, "place bid", err)
		return
	}

	snap, err := h.auctions.Snapshot(r.Context(), auctionID)
	if err != nil {
		h.writeDomainError(w, "get auction", err)
		return
	}
	h.writeCreated(w, map[string]interface{}{
		"bid":     bid,
		"auction": snap,
	})
}

// SettleAuction completes an auction and awards the skill
func (h *Handler) SettleAuction(w http.ResponseWriter, r *http.Request) {
	a, err := h.auctions.Settle(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		h.writeDomainError(w, "settle auction", err)
		return
	}
	h.writeSuccess(w, a)
}
