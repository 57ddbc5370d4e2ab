package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/bursar-backend/internal/middleware"
	"github.com/stemsi/bursar-backend/internal/response"
	"github.com/stemsi/bursar-backend/internal/service"
	"github.com/stemsi/bursar-backend/internal/validator"
)

// RolloverRequest is the optional body of POST /new-academic-year.
type RolloverRequest struct {
	AcademicYear string `json:"academic_year" binding:"omitempty,max=32,academic_year"`
}

// RolloverHandler handles the academic year rollover.
type RolloverHandler struct {
	rolloverService *service.RolloverService
	log             zerolog.Logger
}

// NewRolloverHandler creates a new RolloverHandler.
func NewRolloverHandler(rolloverService *service.RolloverService, log zerolog.Logger) *RolloverHandler {
	return &RolloverHandler{
		rolloverService: rolloverService,
		log:             log.With().Str("component", "rollover_handler").Logger(),
	}
}

// NewAcademicYear godoc
// POST /new-academic-year
// Graduates the top grade, promotes everyone else by one grade and clears
// class-teacher assignments.
func (h *RolloverHandler) NewAcademicYear(c *gin.Context) {
	var req RolloverRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.Reject(c, http.StatusBadRequest, validator.Summary(fields), fields)
		return
	}

	var triggeredBy *int
	if claims := middleware.GetClaims(c); claims != nil {
		id := claims.UserID
		triggeredBy = &id
	}

	result, err := h.rolloverService.RollAcademicYear(c.Request.Context(), service.RolloverRequest{
		AcademicYear: req.AcademicYear,
		TriggeredBy:  triggeredBy,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			response.Reject(c, http.StatusBadRequest, err.Error(), nil)
		case errors.Is(err, service.ErrYearAlreadyRolled), errors.Is(err, service.ErrRunInProgress):
			response.Reject(c, http.StatusConflict, err.Error(), nil)
		default:
			h.log.Error().Err(err).Msg("Academic year rollover failed")
			response.Reject(c, http.StatusInternalServerError, "academic year rollover failed: "+err.Error(), nil)
		}
		return
	}

	msg := fmt.Sprintf("Academic year rolled over: %d graduated, %d promoted", result.Graduated, result.Promoted)
	response.Done(c, http.StatusOK, msg, result)
}
