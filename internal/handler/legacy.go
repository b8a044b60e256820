package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"go.uber.org/zap"
)

// legacyEntryRequest is the body accepted by the original project-report form.
type legacyEntryRequest struct {
	TheProj   string `json:"theProj"`
	TheReport string `json:"theReport"`
}

// LegacyHandler serves the routes used by the first compliance web client,
// which posts project reports and reads a status/message envelope.
type LegacyHandler struct {
	ledger *chain.Ledger
	logger *zap.Logger
}

// NewLegacyHandler creates a new LegacyHandler.
func NewLegacyHandler(ledger *chain.Ledger, logger *zap.Logger) *LegacyHandler {
	return &LegacyHandler{ledger: ledger, logger: logger}
}

// Register mounts the legacy routes on the given router group.
func (h *LegacyHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/add-compliance-entry", h.AddComplianceEntry)
	rg.GET("/verify-chain", h.VerifyChain)
}

// AddComplianceEntry handles POST /add-compliance-entry.
func (h *LegacyHandler) AddComplianceEntry(c *gin.Context) {
	var req legacyEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body", "error": err.Error()})
		return
	}
	if strings.TrimSpace(req.TheProj) == "" && strings.TrimSpace(req.TheReport) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "theProj or theReport is required"})
		return
	}

	entry, err := h.ledger.Append(c.Request.Context(), chain.Payload{
		"projId":     req.TheProj,
		"compReport": req.TheReport,
	})
	if err != nil {
		h.logger.Error("legacy append", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to insert entry",
			"error":   err.Error(),
		})
		return
	}

	SetChainLength(entry.Sequence)
	c.JSON(http.StatusCreated, gin.H{
		"status":  "ok",
		"message": "Entry added to blockchain",
		"hash":    entry.Hash,
	})
}

// VerifyChain handles GET /verify-chain. A compromised chain is a 409.
func (h *LegacyHandler) VerifyChain(c *gin.Context) {
	entries, err := h.ledger.Entries(c.Request.Context())
	if err != nil {
		h.logger.Error("legacy verify", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Internal server error"})
		return
	}

	res := h.ledger.VerifyEntries(entries)
	if !res.Valid {
		c.JSON(http.StatusConflict, gin.H{
			"status":        "fail",
			"message":       "Blockchain is compromised",
			"reason":        res.Reason,
			"failure_index": res.FailureIndex,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"message":  "Blockchain is valid",
		"theChain": entries,
	})
}
