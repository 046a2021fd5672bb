// Package server exposes the store's action surface and sync status over a
// local HTTP API consumed by presentation layers.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/driftnotes/internal/notes"
	"github.com/MarcoPoloResearchLab/driftnotes/internal/store"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var errMissingStore = errors.New("notes store dependency required")

// Dependencies captures what the HTTP handler needs.
type Dependencies struct {
	Store  *store.Store
	Logger *zap.Logger
}

// NewHTTPHandler builds the gin router over the store.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingStore
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{store: deps.Store, logger: logger}

	router.GET("/notes", handler.handleListNotes)
	router.GET("/notes/tree", handler.handleNoteTree)
	router.POST("/notes", handler.handleCreateNote)
	router.PATCH("/notes/:id", handler.handleUpdateNote)
	router.DELETE("/notes/:id", handler.handleDeleteNote)
	router.POST("/notes/:id/move", handler.handleMoveNote)
	router.POST("/notes/:id/duplicate", handler.handleDuplicateNote)
	router.POST("/notes/reorder", handler.handleReorderNotes)
	router.GET("/search", handler.handleSearch)
	router.GET("/sync/status", handler.handleSyncStatus)
	router.POST("/sync/force", handler.handleForceSync)
	router.POST("/queue/:id/abandon", handler.handleAbandonOperation)

	return router, nil
}

type httpHandler struct {
	store  *store.Store
	logger *zap.Logger
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	options := store.FilterOptions{Tag: c.Query("tag")}
	if raw, present := c.GetQuery("archived"); present {
		archived := raw == "true"
		options.Archived = &archived
	}
	if raw, present := c.GetQuery("favorite"); present {
		favorite := raw == "true"
		options.Favorite = &favorite
	}
	c.JSON(http.StatusOK, h.store.Filter(options))
}

func (h *httpHandler) handleNoteTree(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Tree())
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	var input notes.CreateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	created, err := h.store.CreateNote(c.Request.Context(), input)
	h.respondWithNote(c, created, err)
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	var input notes.UpdateInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	input.ID = c.Param("id")
	updated, err := h.store.UpdateNote(c.Request.Context(), input)
	h.respondWithNote(c, updated, err)
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	err := h.store.DeleteNote(c.Request.Context(), c.Param("id"))
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}
	h.respondWithError(c, err)
}

type movePayload struct {
	ParentID string `json:"parent_id"`
	Position int    `json:"position"`
}

func (h *httpHandler) handleMoveNote(c *gin.Context) {
	var payload movePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	moved, err := h.store.MoveNote(c.Request.Context(), c.Param("id"), payload.ParentID, payload.Position)
	h.respondWithNote(c, moved, err)
}

func (h *httpHandler) handleDuplicateNote(c *gin.Context) {
	duplicated, err := h.store.DuplicateNote(c.Request.Context(), c.Param("id"))
	h.respondWithNote(c, duplicated, err)
}

type reorderPayload struct {
	ParentID   string   `json:"parent_id"`
	OrderedIDs []string `json:"ordered_ids"`
}

func (h *httpHandler) handleReorderNotes(c *gin.Context) {
	var payload reorderPayload
	if err := c.ShouldBindJSON(&payload); err != nil || len(payload.OrderedIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.store.ReorderNotes(c.Request.Context(), payload.ParentID, payload.OrderedIDs); err != nil {
		// Partial application is possible; the caller re-issues the failed
		// subset named in the error.
		c.JSON(http.StatusBadGateway, gin.H{"error": "reorder_partial", "detail": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleSearch(c *gin.Context) {
	results, err := h.store.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.respondWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *httpHandler) handleSyncStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.SyncStatus())
}

func (h *httpHandler) handleForceSync(c *gin.Context) {
	started := h.store.ForceSync(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"started": started})
}

func (h *httpHandler) handleAbandonOperation(c *gin.Context) {
	if !h.store.AbandonOperation(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "operation_not_found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// respondWithNote reports remote rejections alongside the preserved
// optimistic record so the UI can show the note as flagged rather than lost.
func (h *httpHandler) respondWithNote(c *gin.Context, note notes.Note, err error) {
	if err == nil {
		c.JSON(http.StatusOK, note)
		return
	}
	if errors.Is(err, notes.ErrRemoteOperation) {
		c.JSON(http.StatusBadGateway, gin.H{
			"error":           "remote_rejected",
			"detail":          err.Error(),
			"note":            note,
			"local_preserved": true,
		})
		return
	}
	h.respondWithError(c, err)
}

func (h *httpHandler) respondWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, notes.ErrHierarchy):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "hierarchy_violation", "detail": err.Error()})
	case errors.Is(err, notes.ErrNoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "note_not_found"})
	case errors.Is(err, notes.ErrInvalidTitle), errors.Is(err, notes.ErrInvalidNoteID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "detail": err.Error()})
	case errors.Is(err, notes.ErrRemoteOperation), errors.Is(err, notes.ErrConnectivity):
		c.JSON(http.StatusBadGateway, gin.H{"error": "remote_unavailable", "detail": err.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
