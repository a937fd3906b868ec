package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/waiterless/internal/observability/context"
	tenantdomain "github.com/smallbiznis/waiterless/internal/tenant/domain"
)

const (
	contextTenantKey    = "tenant"
	contextChannelKey   = "intake_channel"
	headerIdempotency   = "Idempotency-Key"
	headerLastEventID   = "Last-Event-ID"
	headerRateLimitHint = "X-Rate-Limited-Reason"
)

// TenantContext resolves :tenant (id or slug) once per request. Inactive
// tenants pass; mutations check activity in the coordinator.
func (s *Server) TenantContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.Param("tenant"))
		if key == "" {
			AbortWithError(c, invalidRequestError())
			return
		}

		tenant, err := s.core.ResolveTenant(c.Request.Context(), key)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		ctx := obscontext.WithTenantID(c.Request.Context(), tenant.ID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Set(contextTenantKey, tenant)
		c.Next()
	}
}

func tenantFrom(c *gin.Context) tenantdomain.TenantContext {
	value, _ := c.Get(contextTenantKey)
	tenant, _ := value.(tenantdomain.TenantContext)
	return tenant
}

// tenantKey is the canonical key handed to the coordinator.
func tenantKey(c *gin.Context) string {
	return tenantFrom(c).ID.String()
}
