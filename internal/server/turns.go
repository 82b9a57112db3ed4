package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	core "github.com/mohammad-safakhou/converse/internal/agent/core"
	"github.com/mohammad-safakhou/converse/internal/agent/telemetry"
	"github.com/mohammad-safakhou/converse/internal/store"
)

// TurnsHandler exposes the pipeline over HTTP: one endpoint to process a
// turn, one to read assembled context, and a stats view of the running
// aggregates.
type TurnsHandler struct {
	Controller *core.Controller
	Store      *store.Store
	Telemetry  *telemetry.Telemetry
}

func (h *TurnsHandler) Register(g *echo.Group) {
	g.POST("/turns", h.processTurn)
	g.GET("/conversations/:id/context", h.getContext)
	g.GET("/conversations/:id/compactions", h.listCompactions)
	g.GET("/stats", h.getStats)
}

type turnReq struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	Location       string `json:"location,omitempty"`
}

func (h *TurnsHandler) processTurn(c echo.Context) error {
	var req turnReq
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid json")
	}
	if strings.TrimSpace(req.ConversationID) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation_id required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text required")
	}
	owner, _ := c.Get("user_id").(string)
	outcome, err := h.Controller.ProcessTurn(c.Request().Context(), core.TurnRequest{
		ConversationID: req.ConversationID,
		UserText:       req.Text,
		Owner:          owner,
		Now:            time.Now().UTC(),
		Location:       req.Location,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, outcome)
}

func (h *TurnsHandler) getContext(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id required")
	}
	// unknown conversations read as empty context, not 404
	convCtx, err := h.Controller.GetContext(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, convCtx)
}

func (h *TurnsHandler) listCompactions(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "conversation id required")
	}
	recs, err := h.Store.ListCompactRecords(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]interface{}, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]interface{}{
			"window_start": r.WindowStart,
			"window_end":   r.WindowEnd,
			"summary":      r.SummaryText,
			"created_at":   r.CreatedAt,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"compactions": out})
}

func (h *TurnsHandler) getStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Telemetry.Snapshot())
}
