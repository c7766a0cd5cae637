package api

import (
	"github.com/gin-gonic/gin"
	"github.com/zhenyuanlu/haybeat/internal"
)

func GetStats(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		stats, err := app.Stats().ForUser(c.Request.Context(), user)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to compute stats")
			return
		}
		HandleSuccess(c, app.Logger(), stats, nil)
	}
}

func GetDashboard(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		dashboard, err := app.Dashboard().Load(c.Request.Context(), user)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to load dashboard")
			return
		}
		HandleSuccess(c, app.Logger(), dashboard, nil)
	}
}
