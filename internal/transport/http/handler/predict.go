package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"brainage-api/internal/app"
	"brainage-api/internal/logger"
	"brainage-api/internal/transport/http/middleware"
	"brainage-api/internal/transport/http/response"
)

const (
	fileField             = "file"
	chronologicalAgeField = "chronological_age"
	maxChronologicalAge   = 130
)

// PredictHandler serves brain-age predictions for uploaded NIfTI volumes.
type PredictHandler struct {
	service        *app.PredictionService
	maxUploadBytes int64
}

func NewPredictHandler(service *app.PredictionService, maxUploadBytes int64) *PredictHandler {
	return &PredictHandler{service: service, maxUploadBytes: maxUploadBytes}
}

// Predict accepts a multipart form with "file" (.nii or .nii.gz) and an
// optional "chronological_age", and returns the predicted brain age.
func (h *PredictHandler) Predict(c *gin.Context) {
	log := logger.WithRequest(middleware.GetRequestID(c))

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	file, err := c.FormFile(fileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Error(c, http.StatusUnprocessableEntity, "upload exceeds the size limit")
			return
		}
		response.Error(c, http.StatusUnprocessableEntity, "missing volume file (form field 'file')")
		return
	}

	chronologicalAge, err := parseChronologicalAge(c.PostForm(chronologicalAgeField))
	if err != nil {
		response.Error(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to open uploaded file")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "failed to read uploaded file")
		return
	}

	result, err := h.service.Predict(c.Request.Context(), app.PredictInput{
		Volume:           data,
		ChronologicalAge: chronologicalAge,
	})
	if err != nil {
		log.WithFields(logrus.Fields{
			"kind":     app.ErrorKind(err),
			"filename": file.Filename,
			"bytes":    len(data),
			"error":    err.Error(),
		}).Error("prediction failed")
		response.Error(c, http.StatusInternalServerError, err.Error())
		return
	}

	log.WithFields(logrus.Fields{
		"filename":           file.Filename,
		"predicted_age":      result.PredictedBrainAge,
		"processing_time_ms": result.ProcessingTimeMS,
	}).Info("prediction served")
	response.OK(c, result)
}

func parseChronologicalAge(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	age, err := strconv.ParseFloat(raw, 64)
	if err != nil || age < 0 || age > maxChronologicalAge {
		return nil, errors.New("chronological_age must be a number between 0 and 130")
	}
	return &age, nil
}
