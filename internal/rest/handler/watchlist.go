package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/database/types/enum"
	"github.com/cherryfeed/cherry/internal/rest/middleware"
	"github.com/cherryfeed/cherry/internal/rest/render"
	restTypes "github.com/cherryfeed/cherry/internal/rest/types"
	"github.com/cherryfeed/cherry/internal/validation"
	"github.com/cherryfeed/cherry/internal/watchlist"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

// WatchlistService manages watchlists.
type WatchlistService interface {
	List(ctx context.Context, userID string) ([]*types.WatchlistEntry, error)
	Add(ctx context.Context, userID string, input watchlist.EntryInput) (*types.WatchlistEntry, error)
	Update(ctx context.Context, userID string, input watchlist.EntryInput) (*types.WatchlistEntry, error)
	Remove(ctx context.Context, userID string, kind enum.WatchKind, value string) error
}

// WatchlistHandler serves /v1/watchlist.
type WatchlistHandler struct {
	watchlists WatchlistService
	logger     *zap.Logger
}

// NewWatchlistHandler creates a watchlist handler.
func NewWatchlistHandler(watchlists WatchlistService, logger *zap.Logger) *WatchlistHandler {
	return &WatchlistHandler{
		watchlists: watchlists,
		logger:     logger.Named("watchlist_handler"),
	}
}

// List returns the caller's entries.
func (h *WatchlistHandler) List(w http.ResponseWriter, req bunrouter.Request) error {
	entries, err := h.watchlists.List(req.Context(), middleware.UserFromContext(req.Context()))
	if err != nil {
		return writeError(w, err, "failed to load watchlist", h.logger)
	}

	if entries == nil {
		entries = []*types.WatchlistEntry{}
	}

	return render.JSON(w, http.StatusOK, restTypes.WatchlistResponse{Entries: entries})
}

// Add creates an entry. Responds 409 when it already exists.
func (h *WatchlistHandler) Add(w http.ResponseWriter, req bunrouter.Request) error {
	var input watchlist.EntryInput
	if err := decodeBody(req, &input); err != nil {
		return writeError(w, err, "failed to add watchlist entry", h.logger)
	}

	entry, err := h.watchlists.Add(req.Context(), middleware.UserFromContext(req.Context()), input)
	if err != nil {
		return writeError(w, err, "failed to add watchlist entry", h.logger)
	}

	return render.JSON(w, http.StatusCreated, entry)
}

// Update changes the weight of an entry. Responds 404 when it does not exist.
func (h *WatchlistHandler) Update(w http.ResponseWriter, req bunrouter.Request) error {
	var input watchlist.EntryInput
	if err := decodeBody(req, &input); err != nil {
		return writeError(w, err, "failed to update watchlist entry", h.logger)
	}

	entry, err := h.watchlists.Update(req.Context(), middleware.UserFromContext(req.Context()), input)
	if err != nil {
		return writeError(w, err, "failed to update watchlist entry", h.logger)
	}

	return render.JSON(w, http.StatusOK, entry)
}

// Remove deletes the entry named by the kind and value query parameters.
func (h *WatchlistHandler) Remove(w http.ResponseWriter, req bunrouter.Request) error {
	q := req.URL.Query()

	err := h.watchlists.Remove(req.Context(), middleware.UserFromContext(req.Context()),
		enum.WatchKind(q.Get("kind")), q.Get("value"))
	if err != nil {
		return writeError(w, err, "failed to remove watchlist entry", h.logger)
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// decodeBody unmarshals a bounded JSON body.
func decodeBody(req bunrouter.Request, v any) error {
	if err := sonic.ConfigDefault.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(v); err != nil {
		return validation.NewError("body", "json", "request body must be valid JSON")
	}
	return nil
}
