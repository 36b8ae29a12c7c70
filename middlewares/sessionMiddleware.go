package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/pharmacy_backend/config"
	"bitbucket.org/mmdatafocus/pharmacy_backend/utils"
	"github.com/gin-gonic/gin"
)

// Session is the payload cached in redis under "Token:<token>".
type Session struct {
	EmployeeId   int    `json:"employee_id"`
	EmployeeName string `json:"employee_name"`
}

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}

		var session Session
		exists, err := config.GetRedisObject("Token:"+token, &session)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetTokenInContext(c.Request.Context(), token)
		ctx = utils.SetEmployeeIdInContext(ctx, session.EmployeeId)
		ctx = utils.SetEmployeeNameInContext(ctx, session.EmployeeName)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
