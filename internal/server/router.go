package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/notesreview/notesync/internal/notes"
	"github.com/notesreview/notesync/internal/watermark"
	"go.uber.org/zap"
)

var (
	errMissingStore      = errors.New("note store dependency required")
	errMissingWatermarks = errors.New("watermark store dependency required")
)

// Dependencies lists what the status endpoint needs. Everything is
// consumed read-only: the engine's batch jobs are the only writers.
type Dependencies struct {
	Store      *notes.Store
	Watermarks *watermark.Store
	Logger     *zap.Logger
}

// NewHTTPHandler builds the read-only HTTP surface of the engine: a
// single unauthenticated status route reporting the watermarks and the
// size of the mirror.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}
	if deps.Watermarks == nil {
		return nil, errMissingWatermarks
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		store:      deps.Store,
		watermarks: deps.Watermarks,
		logger:     logger,
	}
	router.GET("/api/status", handler.handleStatus)

	return router, nil
}

type httpHandler struct {
	store      *notes.Store
	watermarks *watermark.Store
	logger     *zap.Logger
}

type statusResponse struct {
	LastImport *string `json:"last_import"`
	LastUpdate *string `json:"last_update"`
	LastSync   *string `json:"last_sync"`
	Notes      int64   `json:"notes"`
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	response := statusResponse{}

	slots := []struct {
		slot   watermark.Slot
		target **string
	}{
		{watermark.SlotImport, &response.LastImport},
		{watermark.SlotUpdate, &response.LastUpdate},
		{watermark.SlotSync, &response.LastSync},
	}
	for _, entry := range slots {
		value, found, err := h.watermarks.Read(entry.slot)
		if err != nil {
			h.logger.Error("watermark read failed", zap.String("slot", string(entry.slot)), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
			return
		}
		if found {
			formatted := value.Format(time.RFC3339)
			*entry.target = &formatted
		}
	}

	total, err := h.store.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("note count failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status unavailable"})
		return
	}
	response.Notes = total

	c.JSON(http.StatusOK, response)
}
