package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/waiterless/internal/intake"
	"github.com/smallbiznis/waiterless/internal/order/domain"
)

type submitOrderRequest struct {
	Channel string `json:"channel"`
	intake.DraftRequest
}

type transitionOrderRequest struct {
	Transition       string `json:"transition"`
	ExpectedVersion  *int64 `json:"expected_version"`
	EstimatedMinutes int    `json:"estimated_minutes"`
	Actor            string `json:"actor"`
}

func (s *Server) SubmitOrder(c *gin.Context) {
	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	adapter, err := s.intake.For(req.Channel)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(contextChannelKey, string(adapter.Channel()))

	order, err := adapter.SubmitDraftOrder(c.Request.Context(), tenantKey(c), req.DraftRequest)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

// SubmitQROrder is the table-side entry point: the scanned code is in the path.
func (s *Server) SubmitQROrder(c *gin.Context) {
	var req intake.DraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.QRCode = strings.TrimSpace(c.Param("qr"))

	adapter, err := s.intake.For(string(domain.ChannelQR))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set(contextChannelKey, string(domain.ChannelQR))

	order, err := adapter.SubmitDraftOrder(c.Request.Context(), tenantKey(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) ListOrders(c *gin.Context) {
	var filter domain.ListFilter

	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		filter.Status = status
	}

	tableID, err := parseOptionalSnowflakeID(c.Query("table_id"))
	if err != nil {
		AbortWithError(c, newValidationError("table_id", "invalid_table_id", "invalid table_id"))
		return
	}
	filter.TableID = tableID

	active, err := parseOptionalBool(c.Query("active"))
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}
	if active != nil {
		filter.ActiveOnly = *active
	}

	if filter.Limit, err = parseOptionalInt(c.Query("limit")); err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
		return
	}
	if filter.Offset, err = parseOptionalInt(c.Query("offset")); err != nil {
		AbortWithError(c, newValidationError("offset", "invalid_offset", "invalid offset"))
		return
	}

	orders, err := s.core.ListOrders(c.Request.Context(), tenantKey(c), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": orders})
}

func (s *Server) GetOrder(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	order, err := s.core.GetOrder(c.Request.Context(), tenantKey(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}

func (s *Server) TransitionOrder(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req transitionOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.ExpectedVersion == nil {
		AbortWithError(c, newValidationError("expected_version", "expected_version_required", "expected_version is required"))
		return
	}
	if req.EstimatedMinutes < 0 || req.EstimatedMinutes > domain.MaxEstimatedMinutes {
		AbortWithError(c, newValidationError("estimated_minutes", "invalid_estimated_minutes", "estimated_minutes must be between 0 and 1440"))
		return
	}

	order, err := s.core.RequestTransition(c.Request.Context(), tenantKey(c), id, domain.TransitionRequest{
		Transition:       domain.Transition(req.Transition),
		ExpectedVersion:  *req.ExpectedVersion,
		Actor:            strings.TrimSpace(req.Actor),
		EstimatedMinutes: req.EstimatedMinutes,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": order})
}
