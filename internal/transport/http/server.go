package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"brainage-api/internal/bootstrap"
	"brainage-api/internal/logger"
	"brainage-api/internal/transport/http/handler"
	"brainage-api/internal/transport/http/middleware"
	"brainage-api/internal/transport/http/response"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.RequestLogger(),
		gin.CustomRecovery(recoverWithDetail),
		middleware.CORS(app.Config.HTTP.CORSOrigins),
	)

	healthHandler := handler.NewHealthHandler(app)
	predictHandler := handler.NewPredictHandler(app.Predictions, app.Config.MaxUploadBytes())

	router.GET("/", healthHandler.Root)
	router.GET("/healthz", healthHandler.Check)
	router.POST("/predict", predictHandler.Predict)

	return router
}

func recoverWithDetail(c *gin.Context, recovered any) {
	logger.WithRequest(middleware.GetRequestID(c)).
		WithField("panic", recovered).
		Error("handler panicked")
	response.Error(c, http.StatusInternalServerError, "internal server error")
}
