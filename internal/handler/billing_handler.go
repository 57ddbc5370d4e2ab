package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/bursar-backend/internal/middleware"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/report"
	"github.com/stemsi/bursar-backend/internal/response"
	"github.com/stemsi/bursar-backend/internal/service"
	"github.com/stemsi/bursar-backend/internal/validator"
)

// IdempotencyKeyHeader carries a client-chosen run id for bill-term.
const IdempotencyKeyHeader = "Idempotency-Key"

// BillTermRequest is the body of POST /bill-term.
type BillTermRequest struct {
	TermID     *int  `json:"term_id"`
	StudentIDs []int `json:"student_ids" binding:"omitempty,max=10000,dive,gt=0"`
}

// BillingHandler handles term billing and billing run history.
type BillingHandler struct {
	billingService *service.BillingService
	timeout        time.Duration
	log            zerolog.Logger
}

// NewBillingHandler creates a new BillingHandler. A positive timeout bounds
// each billing request.
func NewBillingHandler(billingService *service.BillingService, timeout time.Duration, log zerolog.Logger) *BillingHandler {
	return &BillingHandler{
		billingService: billingService,
		timeout:        timeout,
		log:            log.With().Str("component", "billing_handler").Logger(),
	}
}

// BillTerm godoc
// POST /bill-term
// Bills every active student for a term, or only student_ids when given.
func (h *BillingHandler) BillTerm(c *gin.Context) {
	var req BillTermRequest
	if fields := validator.BindOptional(c, &req); fields != nil {
		response.Reject(c, http.StatusBadRequest, "invalid request body", fields)
		return
	}
	if req.TermID == nil {
		response.Reject(c, http.StatusBadRequest, "term_id is required", nil)
		return
	}

	var runID uuid.UUID
	if key := c.GetHeader(IdempotencyKeyHeader); key != "" {
		id, err := uuid.Parse(key)
		if err != nil {
			response.Reject(c, http.StatusBadRequest, IdempotencyKeyHeader+" must be a UUID", nil)
			return
		}
		runID = id
	}

	var triggeredBy *int
	if claims := middleware.GetClaims(c); claims != nil {
		id := claims.UserID
		triggeredBy = &id
	}

	ctx := c.Request.Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.billingService.BillTerm(ctx, service.BillTermRequest{
		TermID:      *req.TermID,
		StudentIDs:  req.StudentIDs,
		RunID:       runID,
		TriggeredBy: triggeredBy,
	})
	if err != nil {
		h.rejectBilling(c, result, err)
		return
	}

	if result.Status != model.RunStatusCompleted {
		response.Reject(c, http.StatusInternalServerError, incompleteMessage(result), result)
		return
	}
	response.Done(c, http.StatusOK, completedMessage(result), result)
}

func (h *BillingHandler) rejectBilling(c *gin.Context, result *model.BillingResult, err error) {
	var fatal *service.FatalBatchError
	switch {
	case errors.Is(err, service.ErrValidation):
		response.Reject(c, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, service.ErrNotFound):
		response.Reject(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrTermAlreadyBilled), errors.Is(err, service.ErrRunInProgress):
		response.Reject(c, http.StatusConflict, err.Error(), nil)
	case errors.As(err, &fatal):
		h.log.Error().Err(err).Str("stage", fatal.Stage).Msg("Billing run aborted")
		details := gin.H{"stage": fatal.Stage, "reason": fatal.Err.Error()}
		if result != nil {
			details["result"] = result
		}
		response.Reject(c, http.StatusInternalServerError, "billing failed: "+fatal.Stage, details)
	default:
		h.log.Error().Err(err).Msg("Billing run failed")
		response.Reject(c, http.StatusInternalServerError, "billing failed", nil)
	}
}

func completedMessage(r *model.BillingResult) string {
	msg := fmt.Sprintf("Term %d billed: %d students billed, %d already billed, %d skipped",
		r.TermID, r.BilledCount, len(r.AlreadyBilled), len(r.Skipped))
	if r.Replayed {
		msg += " (replayed)"
	}
	return msg
}

func incompleteMessage(r *model.BillingResult) string {
	attempted := r.BilledCount + len(r.AlreadyBilled) + len(r.Errors)
	if r.Status == model.RunStatusFailed {
		return fmt.Sprintf("No students were billed: %d of %d failed", len(r.Errors), attempted)
	}
	return fmt.Sprintf("Billed %d of %d students, %d failed", r.BilledCount+len(r.AlreadyBilled), attempted, len(r.Errors))
}

// ListRuns godoc
// GET /api/v1/admin/billing-runs
// Lists billing runs, newest first, optionally filtered by term_id.
func (h *BillingHandler) ListRuns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))

	var termID *int
	if raw := c.Query("term_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
			return
		}
		termID = &id
	}

	runs, pagination, err := h.billingService.ListRuns(c.Request.Context(), termID, page, perPage)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list billing runs")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.SuccessWithPagination(c, http.StatusOK, gin.H{"runs": runs}, pagination)
}

// GetRun godoc
// GET /api/v1/admin/billing-runs/:id
// Returns one billing run report.
func (h *BillingHandler) GetRun(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	response.Success(c, http.StatusOK, gin.H{"run": run})
}

// ExportRun godoc
// GET /api/v1/admin/billing-runs/:id/export
// Downloads a finished billing run as an xlsx workbook.
func (h *BillingHandler) ExportRun(c *gin.Context) {
	run, ok := h.loadRun(c)
	if !ok {
		return
	}
	if run.Status == model.RunStatusRunning {
		response.Fail(c, http.StatusConflict, response.ErrRunUnfinished)
		return
	}

	f, err := report.BillingRunWorkbook(run)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.RunID.String()).Msg("Failed to build billing run workbook")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer f.Close()

	c.Header("Content-Type", report.ContentType)
	c.Header("Content-Disposition", "attachment; filename="+report.FileName(run))
	if err := f.Write(c.Writer); err != nil {
		h.log.Error().Err(err).Str("run_id", run.RunID.String()).Msg("Failed to write billing run workbook")
	}
}

func (h *BillingHandler) loadRun(c *gin.Context) (*model.BillingRun, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return nil, false
	}

	run, err := h.billingService.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return nil, false
		}
		h.log.Error().Err(err).Str("run_id", id.String()).Msg("Failed to load billing run")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return nil, false
	}
	return run, true
}
