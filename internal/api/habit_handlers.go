package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/service"
)

// ToggleRequest sets the completion of a habit on Date (default today) to
// Completed.
type ToggleRequest struct {
	Date      string `json:"date"`
	Completed *bool  `json:"completed"`
}

func GetHabits(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		includeArchived := c.Query("archived") == "true"
		habits, err := app.Habits().ListHabits(c.Request.Context(), user, includeArchived)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch habits")
			return
		}
		HandleSuccess(c, app.Logger(), habits, map[string]any{"count": len(habits)})
	}
}

func PostHabit(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		var body service.HabitRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, http.StatusBadRequest, "Invalid JSON")
			return
		}
		habit, err := app.Habits().CreateHabit(c.Request.Context(), user, &body)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to create habit")
			return
		}
		HandleCreated(c, app.Logger(), habit)
	}
}

func GetHabit(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		habit, err := app.Habits().GetHabit(c.Request.Context(), user, c.Param("id"))
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch habit")
			return
		}
		HandleSuccess(c, app.Logger(), habit, nil)
	}
}

func PutHabit(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		var body service.HabitRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, http.StatusBadRequest, "Invalid JSON")
			return
		}
		habit, err := app.Habits().UpdateHabit(c.Request.Context(), user, c.Param("id"), &body)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to update habit")
			return
		}
		HandleSuccess(c, app.Logger(), habit, nil)
	}
}

func DeleteHabit(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		if err := app.Habits().DeleteHabit(c.Request.Context(), user, c.Param("id")); err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to delete habit")
			return
		}
		HandleSuccess(c, app.Logger(), nil, map[string]any{"deleted": c.Param("id")})
	}
}

func PostArchiveHabit(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		habit, err := app.Habits().ArchiveHabit(c.Request.Context(), user, c.Param("id"))
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to archive habit")
			return
		}
		HandleSuccess(c, app.Logger(), habit, nil)
	}
}

func PostToggleCompletion(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		var body ToggleRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			HandleError(c, app.Logger(), err, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if body.Completed == nil {
			HandleError(c, app.Logger(), internal.ErrValidation, http.StatusBadRequest, "completed is required")
			return
		}
		if body.Date == "" {
			body.Date = app.Habits().Today()
		}
		habit, err := app.Habits().ToggleCompletion(c.Request.Context(), user, c.Param("id"), body.Date, !*body.Completed)
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to update completion")
			return
		}
		HandleSuccess(c, app.Logger(), habit, map[string]any{"date": body.Date, "completed": *body.Completed})
	}
}

func PostMarkDone(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		habit, err := app.Habits().MarkDone(c.Request.Context(), user, c.Param("id"))
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to mark habit done")
			return
		}
		HandleSuccess(c, app.Logger(), habit, nil)
	}
}

func GetCompletions(app App) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.MustGet("user").(*internal.User)
		list, err := app.Habits().ListCompletions(c.Request.Context(), user, c.Param("id"), c.Query("from"), c.Query("to"))
		if err != nil {
			HandleServiceError(c, app.Logger(), err, "Failed to fetch completions")
			return
		}
		HandleSuccess(c, app.Logger(), list, map[string]any{"count": len(list)})
	}
}
