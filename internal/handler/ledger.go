package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/ComplianceLedger/internal/chain"
	"github.com/jmerrifield20/ComplianceLedger/internal/store"
	"go.uber.org/zap"
)

// LedgerHandler exposes the compliance ledger over HTTP.
type LedgerHandler struct {
	ledger *chain.Ledger
	reader chain.EntryReader
	logger *zap.Logger
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger *chain.Ledger, reader chain.EntryReader, logger *zap.Logger) *LedgerHandler {
	return &LedgerHandler{ledger: ledger, reader: reader, logger: logger}
}

// Register mounts the ledger routes on the given router group.
func (h *LedgerHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/entry", h.Append)
	rg.GET("/verify", h.Verify)

	l := rg.Group("/ledger")
	{
		l.GET("", h.List)
		l.GET("/overview", h.Overview)
		l.GET("/entries/:seq", h.GetEntry)
	}
}

// Append handles POST /entry. It chains the request body onto the ledger.
func (h *LedgerHandler) Append(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	payload, err := chain.DecodePayload(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload must contain at least one field"})
		return
	}

	entry, err := h.ledger.Append(c.Request.Context(), payload)
	if err != nil {
		h.writeAppendError(c, err)
		return
	}

	SetChainLength(entry.Sequence)
	c.JSON(http.StatusCreated, gin.H{
		"sequence":  entry.Sequence,
		"hash":      entry.Hash,
		"prev_hash": entry.PrevHash,
	})
}

func (h *LedgerHandler) writeAppendError(c *gin.Context, err error) {
	if errors.Is(err, chain.ErrSerialization) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.Error("append ledger entry", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// List handles GET /ledger. It returns every entry in sequence order.
func (h *LedgerHandler) List(c *gin.Context) {
	entries, err := h.ledger.Entries(c.Request.Context())
	if err != nil {
		h.logger.Error("list ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read ledger"})
		return
	}
	if entries == nil {
		entries = []*chain.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Overview handles GET /ledger/overview. It returns the chain length and tip hash.
func (h *LedgerHandler) Overview(c *gin.Context) {
	head, n, err := h.reader.Head(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger head", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	root := ""
	if head != nil {
		root = head.Hash
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": n,
		"root":    root,
	})
}

// GetEntry handles GET /ledger/entries/:seq. It returns a single entry.
func (h *LedgerHandler) GetEntry(c *gin.Context) {
	seq, err := strconv.ParseInt(c.Param("seq"), 10, 64)
	if err != nil || seq < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "seq must be a positive integer"})
		return
	}

	entry, err := h.reader.Get(c.Request.Context(), seq)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("get ledger entry", zap.Int64("seq", seq), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}

	c.JSON(http.StatusOK, entry)
}

// Verify handles GET /verify. It walks the full chain and reports integrity.
// Tampering yields 200 with valid=false; only an unreachable store is a 500.
func (h *LedgerHandler) Verify(c *gin.Context) {
	res, err := h.ledger.Verify(c.Request.Context())
	if err != nil {
		h.logger.Error("verify ledger", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
