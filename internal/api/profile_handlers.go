package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/service"
)

func GetProfile(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		profile, err := app.Profiles().GetProfile(c.Request.Context(), user)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch profile")
			return
		}
		HandleSuccess(c, app.Logger(), profile, nil)
	}
}

func PutProfile(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		var body service.ProfileRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, http.StatusBadRequest, "Invalid JSON")
			return
		}
		profile, err := app.Profiles().UpdateProfile(c.Request.Context(), user, &body)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to save profile")
			return
		}
		HandleSuccess(c, app.Logger(), profile, nil)
	}
}
