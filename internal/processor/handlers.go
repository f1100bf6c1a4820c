package processor

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/seanankenbruck/kql-resolver/internal/errors"
	"github.com/seanankenbruck/kql-resolver/internal/macros"
	"github.com/seanankenbruck/kql-resolver/internal/observability"
)

// SetupRoutes registers the query endpoints on the given group
func (qp *QueryProcessor) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/resolve", qp.handleResolve)
	api.POST("/query", qp.handleQuery)
	api.GET("/history", qp.handleHistory)
	api.GET("/macros", qp.handleMacros)
}

func (qp *QueryProcessor) handleResolve(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, formatErrorResponse(errors.NewInvalidInputError("request body", err.Error())))
		return
	}

	resp, err := qp.Resolve(c.Request.Context(), &req)
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (qp *QueryProcessor) handleQuery(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, formatErrorResponse(errors.NewInvalidInputError("request body", err.Error())))
		return
	}

	resp, err := qp.Execute(c.Request.Context(), &req)
	if err != nil {
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (qp *QueryProcessor) handleHistory(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, formatErrorResponse(errors.NewInvalidInputError("limit", "expected a positive integer")))
			return
		}
		limit = n
	}

	ctx := c.Request.Context()
	entries, err := qp.History(ctx, observability.GetUserID(ctx), limit)
	if err != nil {
		err = errors.NewDatabaseQueryError(err, "history")
		c.JSON(getErrorStatusCode(err), formatErrorResponse(err))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"history": entries,
		"count":   len(entries),
	})
}

func (qp *QueryProcessor) handleMacros(c *gin.Context) {
	opts := qp.resolver.Options()
	c.JSON(http.StatusOK, gin.H{
		"macros":              macros.Catalog(),
		"default_time_column": opts.DefaultTimeColumn,
		"select_all_value":    opts.SelectAllValue,
		"default_interval":    qp.config.DefaultInterval,
	})
}

// formatErrorResponse renders err in the API error shape
func formatErrorResponse(err error) gin.H {
	if enhanced, ok := errors.As(err); ok {
		return gin.H{"error": enhanced}
	}

	return gin.H{
		"error": gin.H{
			"code":    "INTERNAL_ERROR",
			"message": err.Error(),
		},
	}
}

// getErrorStatusCode maps error codes to HTTP status codes
func getErrorStatusCode(err error) int {
	enhanced, ok := errors.As(err)
	if !ok {
		return http.StatusInternalServerError
	}

	switch enhanced.Code {
	case errors.ErrCodeInvalidInput, errors.ErrCodeMissingRequired,
		errors.ErrCodeInvalidTimeRange, errors.ErrCodeQueryTooLong,
		errors.ErrCodeUnsafeQuery, errors.ErrCodeWorkspaceRequired,
		errors.ErrCodeTemplateResolution:
		return http.StatusBadRequest
	case errors.ErrCodeUpstreamQuery:
		// The query itself was bad; auth and server failures are ours to report
		status, _ := enhanced.Metadata["status_code"].(int)
		if status >= 400 && status < 500 && status != http.StatusUnauthorized && status != http.StatusForbidden {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.ErrCodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrCodeNotAuthenticated, errors.ErrCodeInvalidCredentials:
		return http.StatusUnauthorized
	case errors.ErrCodeInsufficientPerms:
		return http.StatusForbidden
	case errors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case errors.ErrCodeDatabaseConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
