package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zhenyuanlu/haybeat/internal/auth"
)

// NewRouter registers every route. Sign-up and sign-in exist only when the
// app carries a password session service.
func NewRouter(app App, provider auth.Provider) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestIDMiddleware(), AccessLogMiddleware(app.Logger()))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if app.Sessions() != nil {
		r.POST("/auth/signup", PostSignUp(app))
		r.POST("/auth/signin", PostSignIn(app))
	}

	// Protected routes
	p := r.Group("/", auth.Middleware(provider, app.Logger()))
	p.POST("/auth/signout", PostSignOut(app))
	p.GET("/me", GetMe(app))
	p.GET("/profile", GetProfile(app))
	p.PUT("/profile", PutProfile(app))

	p.GET("/habits", GetHabits(app))
	p.POST("/habits", PostHabit(app))
	p.GET("/habits/:id", GetHabit(app))
	p.PUT("/habits/:id", PutHabit(app))
	p.DELETE("/habits/:id", DeleteHabit(app))
	p.POST("/habits/:id/archive", PostArchiveHabit(app))
	p.POST("/habits/:id/toggle", PostToggleCompletion(app))
	p.POST("/habits/:id/mark-done", PostMarkDone(app))
	p.GET("/habits/:id/completions", GetCompletions(app))

	p.GET("/stats", GetStats(app))
	p.GET("/dashboard", GetDashboard(app))

	p.GET("/challenges", GetChallenges(app))
	p.POST("/challenges", PostChallenge(app))
	p.GET("/challenges/:id", GetChallenge(app))
	p.POST("/challenges/:id/join", PostJoinChallenge(app))
	p.POST("/challenges/:id/leave", PostLeaveChallenge(app))
	p.PUT("/challenges/:id/progress", PutChallengeProgress(app))
	p.GET("/challenges/:id/leaderboard", GetLeaderboard(app))
	return r
}
