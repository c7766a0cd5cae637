package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/service"
)

func GetChallenges(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		list, err := app.Challenges().ListActive(c.Request.Context(), user)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch challenges")
			return
		}
		HandleSuccess(c, app.Logger(), list, map[string]any{"count": len(list)})
	}
}

func PostChallenge(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		var body service.ChallengeRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, http.StatusBadRequest, "Invalid JSON")
			return
		}
		challenge, err := app.Challenges().CreateChallenge(c.Request.Context(), user, &body)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to create challenge")
			return
		}
		HandleCreated(c, app.Logger(), challenge)
	}
}

func GetChallenge(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		challenge, err := app.Challenges().GetChallenge(c.Request.Context(), user, c.Param("id"))
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch challenge")
			return
		}
		HandleSuccess(c, app.Logger(), challenge, nil)
	}
}

func PostJoinChallenge(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		challenge, err := app.Challenges().JoinChallenge(c.Request.Context(), user, c.Param("id"))
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to join challenge")
			return
		}
		HandleSuccess(c, app.Logger(), challenge, nil)
	}
}

func PostLeaveChallenge(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		challenge, err := app.Challenges().LeaveChallenge(c.Request.Context(), user, c.Param("id"))
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to leave challenge")
			return
		}
		HandleSuccess(c, app.Logger(), challenge, nil)
	}
}

func PutChallengeProgress(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		var body service.ProgressRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if body.Progress == nil {
			HandleError(c, app.Logger(), internal.ErrValidation, http.StatusBadRequest, "progress is required")
			return
		}
		challenge, err := app.Challenges().UpdateProgress(c.Request.Context(), user, c.Param("id"), *body.Progress)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to update progress")
			return
		}
		HandleSuccess(c, app.Logger(), challenge, nil)
	}
}

func GetLeaderboard(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		board, err := app.Challenges().Leaderboard(c.Request.Context(), user, c.Param("id"))
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch leaderboard")
			return
		}
		HandleSuccess(c, app.Logger(), board, nil)
	}
}
