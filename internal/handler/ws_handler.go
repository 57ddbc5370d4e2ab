package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/bursar-backend/internal/model"
	"github.com/stemsi/bursar-backend/internal/response"
	"github.com/stemsi/bursar-backend/internal/service"
	ws "github.com/stemsi/bursar-backend/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ProgressSubscriber opens a subscription to a billing run's progress channel.
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, runID string) *redis.PubSub
}

// WSHandler streams billing run progress over WebSocket.
type WSHandler struct {
	progress       ProgressSubscriber
	billingService *service.BillingService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(progress ProgressSubscriber, billingService *service.BillingService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		progress:       progress,
		billingService: billingService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// BillingRunStream godoc
// WS /ws/v1/admin/billing-runs/:id/stream
// Streams per-student progress of a billing run and closes after the final report.
func (h *WSHandler) BillingRunStream(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	run, err := h.billingService.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
			return
		}
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("run_id", runID.String()).Logger()

	if run.Status != model.RunStatusRunning {
		h.finish(conn, run)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	sub := h.progress.Subscribe(ctx, runID.String())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		wsLog.Error().Err(err).Msg("Progress subscription failed")
		_ = ws.WriteError(conn, "progress unavailable")
		return
	}

	// The run may have finished before the subscription was confirmed.
	if run, err = h.billingService.GetRun(ctx, runID); err == nil && run.Status != model.RunStatusRunning {
		h.finish(conn, run)
		return
	}

	wsLog.Info().Msg("Progress stream opened")

	pings := make(chan struct{}, 1)
	go func() {
		defer cancel()
		err := ws.KeepReading(conn, func() {
			select {
			case pings <- struct{}{}:
			default:
			}
		})
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			wsLog.Warn().Err(err).Msg("Unexpected close")
		}
	}()

	ticker := time.NewTicker(ws.PingPeriod)
	defer ticker.Stop()
	messages := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			wsLog.Debug().Msg("Progress stream closed")
			return
		case <-pings:
			if err := ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong}); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WritePing(conn); err != nil {
				return
			}
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var event model.ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				wsLog.Warn().Err(err).Msg("Dropping malformed progress event")
				continue
			}
			if event.Outcome == model.ProgressFinished {
				final, err := h.billingService.GetRun(context.WithoutCancel(ctx), runID)
				if err != nil {
					_ = ws.WriteError(conn, "run finished but its report could not be loaded")
					return
				}
				h.finish(conn, final)
				return
			}
			if err := ws.WriteTyped(conn, ws.ProgressResponse{Event: ws.EventProgress, Progress: event}); err != nil {
				return
			}
		}
	}
}

func (h *WSHandler) finish(conn *websocket.Conn, run *model.BillingRun) {
	if err := ws.WriteTyped(conn, ws.FinishedResponse{Event: ws.EventFinished, Result: run}); err != nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
		time.Now().Add(time.Second))
}
