package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jastalk/jastalk/internal/interview"
	"github.com/jastalk/jastalk/internal/ledger"
	"github.com/jastalk/jastalk/internal/utils"
)

type CreditHandler struct {
	manager *interview.Manager
	store   ledger.Store
}

func NewCreditHandler(manager *interview.Manager, store ledger.Store) *CreditHandler {
	return &CreditHandler{manager: manager, store: store}
}

type CreditBalanceResponse struct {
	Minutes  int  `json:"minutes"`
	Seconds  int  `json:"seconds"`
	Tracking bool `json:"tracking"`
	Locked   bool `json:"locked"`
	Degraded bool `json:"degraded"`
}

// Balance refreshes from the ledger when the guard allows it and
// returns the local balance. While an interview is live or the
// post-session lock is armed, the refresh is a no-op and the local
// value is returned as-is.
func (h *CreditHandler) Balance(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	guard := h.manager.Guard(c.Request.Context(), userID)
	if err := guard.Refresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.writeBalance(c, userID)
}

// Refresh is the explicit user-triggered refresh used after pause or
// finish; it bypasses the post-session lock.
func (h *CreditHandler) Refresh(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	guard := h.manager.Guard(c.Request.Context(), userID)
	if err := guard.ManualRefresh(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.writeBalance(c, userID)
}

type PurchaseRequest struct {
	Minutes int `json:"minutes" binding:"required"`
}

// Purchase credits minutes onto the ledger and the local balance.
func (h *CreditHandler) Purchase(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Minutes <= 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CreditHandler.Purchase", "minutes must be positive", err))
		return
	}

	if err := h.store.Add(c.Request.Context(), userID, req.Minutes); err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, "CreditHandler.Purchase", "failed to credit purchase", err))
		return
	}
	h.manager.State(c.Request.Context(), userID).AddCredits(req.Minutes)

	h.writeBalance(c, userID)
}

// AdminGrant credits minutes onto an arbitrary user's ledger (support
// and promotions). Admin-only route.
func (h *CreditHandler) AdminGrant(c *gin.Context) {
	targetID := c.Param("user_id")
	if targetID == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CreditHandler.AdminGrant", "user_id is required", nil))
		return
	}

	var req PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Minutes <= 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, "CreditHandler.AdminGrant", "minutes must be positive", err))
		return
	}

	if err := h.store.Add(c.Request.Context(), targetID, req.Minutes); err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, "CreditHandler.AdminGrant", "failed to grant credits", err))
		return
	}
	// Only touch local state if this process already tracks the user;
	// grants must not bypass the guard for everyone else.
	if st := h.manager.CreditState(targetID); st != nil {
		st.AddCredits(req.Minutes)
	}

	c.JSON(http.StatusOK, gin.H{"user_id": targetID, "granted_minutes": req.Minutes})
}

func (h *CreditHandler) writeBalance(c *gin.Context, userID string) {
	st := h.manager.State(c.Request.Context(), userID)
	guard := h.manager.Guard(c.Request.Context(), userID)
	b := st.Balance()

	c.JSON(http.StatusOK, CreditBalanceResponse{
		Minutes:  b.Minutes,
		Seconds:  b.Seconds,
		Tracking: st.Tracking(),
		Locked:   st.Locked(),
		Degraded: guard.Degraded(),
	})
}
