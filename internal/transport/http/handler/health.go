package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"brainage-api/internal/bootstrap"
)

const usageMessage = "Upload a .nii or .nii.gz MRI file to /predict"

type HealthHandler struct {
	app *bootstrap.App
}

func NewHealthHandler(app *bootstrap.App) *HealthHandler {
	return &HealthHandler{app: app}
}

// Root is the liveness probe and usage hint.
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": usageMessage,
	})
}

// Check reports process details. The model is loaded lazily, so a cold model
// is not a failure.
func (h *HealthHandler) Check(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"app":          h.app.Config.App.Name,
		"env":          h.app.Config.App.Env,
		"uptime_sec":   int(time.Since(h.app.StartedAt).Seconds()),
		"model_loaded": h.app.Model.Loaded(),
	})
}
