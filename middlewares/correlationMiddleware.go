package middlewares

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/billing_backend/utils"
)

const CorrelationIdHeader = "X-Correlation-Id"

// CorrelationMiddleware tags every request so its history rows and ledger events can be traced together.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Request.Header.Get(CorrelationIdHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), id))
		c.Header(CorrelationIdHeader, id)
		c.Next()
	}
}
