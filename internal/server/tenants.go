package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	tenantdomain "github.com/smallbiznis/waiterless/internal/tenant/domain"
)

type onboardTenantRequest struct {
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	TaxRateBps *int64 `json:"tax_rate_bps"`
}

func (s *Server) OnboardTenant(c *gin.Context) {
	var req onboardTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	tenant, err := s.tenants.Onboard(c.Request.Context(), tenantdomain.OnboardRequest{
		Name:       strings.TrimSpace(req.Name),
		Slug:       strings.TrimSpace(req.Slug),
		TaxRateBps: req.TaxRateBps,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) GetTenant(c *gin.Context) {
	tenant, err := s.tenants.Get(c.Request.Context(), tenantKey(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) DeactivateTenant(c *gin.Context) {
	tenant, err := s.tenants.Deactivate(c.Request.Context(), tenantKey(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tenant})
}

func (s *Server) ActivateTenant(c *gin.Context) {
	tenant, err := s.tenants.Activate(c.Request.Context(), tenantKey(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tenant})
}
