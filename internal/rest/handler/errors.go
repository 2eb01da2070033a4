package handler

import (
	"errors"
	"net/http"

	"github.com/cherryfeed/cherry/internal/database/types"
	"github.com/cherryfeed/cherry/internal/digest"
	"github.com/cherryfeed/cherry/internal/rest/render"
	"github.com/cherryfeed/cherry/internal/validation"
	"github.com/cherryfeed/cherry/internal/watchlist"
	"go.uber.org/zap"
)

// writeError maps a service error to its HTTP status. Unexpected errors are
// logged and answered with the generic fallback message.
func writeError(w http.ResponseWriter, err error, fallback string, logger *zap.Logger) error {
	var verr *validation.RequestValidationError

	switch {
	case errors.As(err, &verr):
		return render.JSON(w, http.StatusBadRequest, render.ErrorBody{Error: verr.Error(), Fields: verr.Fields})
	case errors.Is(err, validation.ErrInvalid),
		errors.Is(err, digest.ErrInvalidRequest),
		errors.Is(err, watchlist.ErrUnknownAction):
		return render.Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, digest.ErrUnauthorized):
		return render.Error(w, http.StatusUnauthorized, "unauthorized")
	case errors.Is(err, types.ErrWatchlistEntryNotFound):
		return render.Error(w, http.StatusNotFound, types.ErrWatchlistEntryNotFound.Error())
	case errors.Is(err, types.ErrDuplicateWatchlistEntry):
		return render.Error(w, http.StatusConflict, types.ErrDuplicateWatchlistEntry.Error())
	case errors.Is(err, digest.ErrRateLimited):
		return render.Error(w, http.StatusTooManyRequests, digest.ErrRateLimited.Error())
	default:
		logger.Error("Request failed", zap.Error(err))
		return render.Error(w, http.StatusInternalServerError, fallback)
	}
}
