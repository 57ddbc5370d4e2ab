package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/bursar-backend/internal/response"
	"github.com/stemsi/bursar-backend/internal/service"
)

// DashboardHandler serves the bursar overview.
type DashboardHandler struct {
	dashboardService *service.DashboardService
	log              zerolog.Logger
}

func NewDashboardHandler(dashboardService *service.DashboardService, log zerolog.Logger) *DashboardHandler {
	return &DashboardHandler{
		dashboardService: dashboardService,
		log:              log.With().Str("component", "dashboard_handler").Logger(),
	}
}

// GetDashboardData godoc
// GET /api/v1/admin/dashboard
// Returns student counts, outstanding totals per fee type and currency, and the last billing run.
func (h *DashboardHandler) GetDashboardData(c *gin.Context) {
	stats, err := h.dashboardService.GetDashboardData(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Str("request_id", response.RequestID(c)).Msg("Failed to load dashboard")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, stats)
}
