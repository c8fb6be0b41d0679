package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/navid-fn/pricio/internal/storage"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 100
	defaultDropSpan = 24 * time.Hour
)

type PriceHandler struct {
	service *PriceService
	now     func() time.Time
}

func NewPriceHandler(service *PriceService) *PriceHandler {
	return &PriceHandler{service: service, now: time.Now}
}

func (h *PriceHandler) Health(c *gin.Context) {
	if err := h.service.Health(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *PriceHandler) ListRuns(c *gin.Context) {
	limit := defaultRunLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := h.service.Runs(c.Request.Context(), c.Query("store"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, runs)
}

func (h *PriceHandler) GetRun(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	run, err := h.service.Run(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (h *PriceHandler) GetProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	product, err := h.service.Product(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, product)
}

func (h *PriceHandler) GetHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	history, err := h.service.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *PriceHandler) ListDrops(c *gin.Context) {
	since := h.now().Add(-defaultDropSpan)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		since = t
	}

	drops, err := h.service.Drops(c.Request.Context(), since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, drops)
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func respondError(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
