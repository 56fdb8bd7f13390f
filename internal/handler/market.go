package handler

import (
	"net/http"
	"strings"
	"time"

	"goldenscan/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const dateLayout = "2006-01-02"

// GetInstruments returns the stored constituents of one index.
func (h *Handler) GetInstruments(c *gin.Context) {
	if h.instruments == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "instrument store unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-instruments")
	defer span.End()

	index := domain.IndexTag(strings.ToLower(strings.TrimSpace(c.Param("index"))))
	span.SetAttributes(attribute.String("index", string(index)))
	if !index.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported index: " + string(index),
			"supported_indexes": domain.SupportedIndexes,
		})
		return
	}

	instruments, err := h.instruments.ListInstruments(ctx, index)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"index": index, "instruments": instruments, "count": len(instruments)})
}

// GetBars returns stored daily bars for one instrument, optionally bounded
// by start and end query dates.
func (h *Handler) GetBars(c *gin.Context) {
	if h.bars == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bar store unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-bars")
	defer span.End()

	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	span.SetAttributes(attribute.String("code", code))

	var start, end time.Time
	if raw := strings.TrimSpace(c.Query("start")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be YYYY-MM-DD"})
			return
		}
		start = parsed
	}
	if raw := strings.TrimSpace(c.Query("end")); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end must be YYYY-MM-DD"})
			return
		}
		end = parsed
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must not precede start"})
		return
	}

	bars, err := h.bars.GetBarsInRange(ctx, code, start, end)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": code, "bars": bars, "count": len(bars)})
}
