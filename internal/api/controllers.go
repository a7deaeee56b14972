package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"execution-core/internal/audit"
	"execution-core/internal/engine"
	"execution-core/internal/order"
	"execution-core/internal/persistence"
	"execution-core/internal/position"
	"execution-core/internal/risk"
	"execution-core/pkg/db"
)

type pushMarksRequest struct {
	Marks []engine.Mark `json:"marks" binding:"required,min=1"`
}

type riskEstimateRequest struct {
	VaR  decimal.Decimal `json:"var"`
	CVaR decimal.Decimal `json:"cvar"`
}

type haltRequest struct {
	Detail string `json:"detail"`
}

type auditQuery struct {
	After uint64 `form:"after"`
	Limit int    `form:"limit"`
}

func (q *auditQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 200
	}
	if q.Limit > 1000 {
		q.Limit = 1000
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// submitSignal answers 202 for an accepted signal and 422 with the outcome otherwise.
func (s *Server) submitSignal(c *gin.Context) {
	var sig engine.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	sig.Symbol = strings.ToUpper(strings.TrimSpace(sig.Symbol))

	out := s.Engine.SubmitSignal(c.Request.Context(), sig)
	if !out.Accepted {
		c.JSON(http.StatusUnprocessableEntity, out)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

func (s *Server) pushMarks(c *gin.Context) {
	var req pushMarksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := s.Engine.PushMarks(c.Request.Context(), req.Marks); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_MARK", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"applied": len(req.Marks)})
}

func (s *Server) updateRiskEstimate(c *gin.Context) {
	var req riskEstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	if err := s.Engine.UpdateRiskEstimate(c.Request.Context(), req.VaR, req.CVaR); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_ESTIMATE", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.Engine.Risk(c.Request.Context()))
}

// ----------------------------------------
// Operator actions
// ----------------------------------------

func (s *Server) halt(c *gin.Context) {
	var req haltRequest
	// an empty body is a halt without detail
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}
	d, err := s.Engine.Halt(c.Request.Context(), CurrentOperator(c), req.Detail)
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) clearHalt(c *gin.Context) {
	if err := s.Engine.ClearHalt(c.Request.Context(), CurrentOperator(c)); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.Engine.Risk(c.Request.Context()))
}

func (s *Server) clearInstrument(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	if err := s.Engine.ClearInstrument(c.Request.Context(), symbol, CurrentOperator(c)); err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "cleared": true})
}

func (s *Server) cancelOrder(c *gin.Context) {
	id := c.Param("id")
	if err := s.Engine.CancelOrder(c.Request.Context(), id, CurrentOperator(c)); err != nil {
		s.respondEngineError(c, err)
		return
	}
	view, err := s.Engine.Order(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusAccepted, gin.H{"id": id})
		return
	}
	c.JSON(http.StatusAccepted, view)
}

// ----------------------------------------
// Queries
// ----------------------------------------

// getOrder serves live orders from the engine and falls back to the journal.
func (s *Server) getOrder(c *gin.Context) {
	id := c.Param("id")
	view, err := s.Engine.Order(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, view)
		return
	}
	if s.Queries != nil {
		row, dbErr := s.Queries.GetOrder(c.Request.Context(), id)
		if dbErr == nil {
			c.JSON(http.StatusOK, gin.H{"order": row, "archived": true})
			return
		}
		if !errors.Is(dbErr, db.ErrNotFound) {
			s.logger.Error("order lookup failed", zap.String("order_id", id), zap.Error(dbErr))
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "order lookup failed")
			return
		}
	}
	s.respondEngineError(c, err)
}

func (s *Server) getPositions(c *gin.Context) {
	positions := s.Engine.Positions(c.Request.Context())
	if positions == nil {
		positions = []position.Position{}
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) getPosition(c *gin.Context) {
	key := position.Key{
		Symbol:   strings.ToUpper(c.Param("symbol")),
		Strategy: c.Param("strategy"),
	}
	p, err := s.Engine.QueryPosition(c.Request.Context(), key, CurrentOperator(c))
	if err != nil {
		s.respondEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) getRisk(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Risk(c.Request.Context()))
}

func (s *Server) getBalance(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Balance(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Metrics(c.Request.Context()))
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.Status(c.Request.Context()))
}

// getAudit replays audit events after a sequence number, oldest first.
func (s *Server) getAudit(c *gin.Context) {
	var q auditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()

	out := []audit.Event{}
	switch {
	case s.Queries != nil:
		rows, err := s.Queries.ListAuditEvents(c.Request.Context(), int64(q.After), q.Limit)
		if err != nil {
			s.logger.Error("audit replay failed", zap.Error(err))
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "audit replay failed")
			return
		}
		for _, row := range rows {
			e, err := persistence.DecodeAudit(row)
			if err != nil {
				s.logger.Warn("undecodable audit row", zap.Int64("seq", row.Seq), zap.Error(err))
				continue
			}
			out = append(out, e)
		}
	case s.Audit != nil:
		out = append(out, s.Audit.After(q.After, q.Limit)...)
	}
	c.JSON(http.StatusOK, out)
}

// respondEngineError maps engine errors onto HTTP statuses.
func (s *Server) respondEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrUnknownOrder), errors.Is(err, position.ErrNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, order.ErrTerminal), errors.Is(err, risk.ErrNotHalted):
		respondError(c, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, risk.ErrNoOperator):
		respondError(c, http.StatusForbidden, "NO_OPERATOR", err.Error())
	case errors.Is(err, order.ErrInvalidRequest), errors.Is(err, engine.ErrInvalidSignal), errors.Is(err, engine.ErrInvalidMark):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	default:
		s.logger.Error("engine call failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
