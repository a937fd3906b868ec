package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type createTableRequest struct {
	Label string `json:"label"`
}

func (s *Server) CreateTable(c *gin.Context) {
	var req createTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	table, err := s.core.CreateTable(c.Request.Context(), tenantKey(c), strings.TrimSpace(req.Label))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": table})
}

func (s *Server) UpdateTable(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}
	var req createTableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	table, err := s.core.UpdateTableLabel(c.Request.Context(), tenantKey(c), id, strings.TrimSpace(req.Label))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": table})
}

func (s *Server) ListTables(c *gin.Context) {
	tables, err := s.core.ListTables(c.Request.Context(), tenantKey(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": tables})
}

func (s *Server) GetTable(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	table, err := s.core.GetTable(c.Request.Context(), tenantKey(c), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": table})
}
