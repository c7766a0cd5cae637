package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/auth"
)

func PostSignUp(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body auth.SignUpRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, http.StatusBadRequest, "Invalid JSON")
			return
		}
		session, err := app.Sessions().SignUp(c.Request.Context(), body)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Sign up failed")
			return
		}
		HandleCreated(c, app.Logger(), session)
	}
}

func PostSignIn(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body auth.SignInRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, http.StatusBadRequest, "Invalid JSON")
			return
		}
		session, err := app.Sessions().SignIn(c.Request.Context(), body)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Sign in failed")
			return
		}
		HandleSuccess(c, app.Logger(), session, nil)
	}
}

func PostSignOut(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		if app.Sessions() == nil {
			HandleError(c, app.Logger(), errors.New("sessions are managed by the auth provider"), http.StatusNotFound, "Sign out unavailable")
			return
		}
		if err := app.Sessions().SignOut(c.Request.Context(), auth.BearerToken(c)); err != nil {
			HandleServiceError(c, app.Logger(), err, "Sign out failed")
			return
		}
		HandleSuccess(c, app.Logger(), nil, map[string]any{"signed_out": true})
	}
}

func GetMe(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		HandleSuccess(c, app.Logger(), user, nil)
	}
}
