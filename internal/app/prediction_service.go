package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"brainage-api/internal/logger"
	"brainage-api/internal/model"
	"brainage-api/internal/volume"
)

// Quality metrics reported with every prediction. They are fixed figures for
// the current model, not per-scan estimates.
const (
	ConfidenceScore   = 91.4
	MeanAbsoluteError = 4.8
	StatusGood        = "Good"
)

// Predictor runs the brain-age model on a normalized volume.
type Predictor interface {
	Predict(v *volume.Volume) (float64, error)
}

// PredictionResult is the response body of POST /predict.
type PredictionResult struct {
	PredictedBrainAge float64   `json:"predicted_brain_age"`
	ConfidenceScore   float64   `json:"confidence_score"`
	MeanAbsoluteError float64   `json:"mean_absolute_error"`
	ProcessingTimeMS  int64     `json:"processing_time_ms"`
	Status            string    `json:"status"`
	AnalysisDate      time.Time `json:"analysis_date"`

	ChronologicalAge *float64 `json:"chronological_age,omitempty"`
	BrainAgeGap      *float64 `json:"brain_age_gap,omitempty"`
	Classification   string   `json:"classification,omitempty"`
	Insight          string   `json:"insight,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`
}

// Kind classifies prediction failures for logging.
type Kind string

const (
	KindDecode        Kind = "decode"
	KindModelNotFound Kind = "model_not_found"
	KindInference     Kind = "inference"
	KindShutdown      Kind = "shutdown"
	KindUnknown       Kind = "unknown"
)

// ErrorKind maps err to one of the failure kinds.
func ErrorKind(err error) Kind {
	switch {
	case errors.Is(err, volume.ErrDecode):
		return KindDecode
	case errors.Is(err, model.ErrModelNotFound):
		return KindModelNotFound
	case errors.Is(err, model.ErrInference):
		return KindInference
	case errors.Is(err, model.ErrHostClosed):
		return KindShutdown
	default:
		return KindUnknown
	}
}

// AgeCache stores raw model outputs keyed by upload digest. Implementations
// may fail; the service then falls back to running the model.
type AgeCache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, age float64) error
}

type PredictionService struct {
	predictor Predictor
	cache     AgeCache
	now       func() time.Time
	log       *logrus.Entry
}

type Option func(*PredictionService)

// WithCache enables lookup of previously predicted scans.
func WithCache(c AgeCache) Option {
	return func(s *PredictionService) { s.cache = c }
}

func NewPredictionService(predictor Predictor, opts ...Option) *PredictionService {
	s := &PredictionService{
		predictor: predictor,
		now:       time.Now,
		log:       logger.WithComponent("prediction"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PredictInput is one uploaded scan plus the optional chronological age.
type PredictInput struct {
	Volume           []byte
	ChronologicalAge *float64
}

// Predict decodes and normalizes the scan, runs the model and assembles the
// result. Either every step succeeds or an error is returned.
func (s *PredictionService) Predict(ctx context.Context, input PredictInput) (*PredictionResult, error) {
	start := s.now()

	age, err := s.predictAge(ctx, input.Volume)
	if err != nil {
		return nil, err
	}

	end := s.now()
	result := &PredictionResult{
		PredictedBrainAge: roundTenth(age),
		ConfidenceScore:   ConfidenceScore,
		MeanAbsoluteError: MeanAbsoluteError,
		ProcessingTimeMS:  end.Sub(start).Milliseconds(),
		Status:            StatusGood,
		AnalysisDate:      end.UTC(),
	}

	if input.ChronologicalAge != nil {
		chrono := *input.ChronologicalAge
		gap := roundTenth(result.PredictedBrainAge - chrono)
		band := ClassifyGap(gap)
		result.ChronologicalAge = &chrono
		result.BrainAgeGap = &gap
		result.Classification = band.Label
		result.Insight = band.Insight
		result.Recommendations = band.Recommendations
	}
	return result, nil
}

func (s *PredictionService) predictAge(ctx context.Context, upload []byte) (float64, error) {
	var key string
	if s.cache != nil {
		key = digest(upload)
		age, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.WithError(err).Warn("prediction cache lookup failed")
		} else if ok {
			s.log.WithField("digest", key).Debug("prediction cache hit")
			return age, nil
		}
	}

	vol, err := volume.Load(upload)
	if err != nil {
		return 0, err
	}
	if s.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		st := volume.Summarize(vol)
		s.log.WithFields(logrus.Fields{
			"shape":  vol.Shape,
			"voxels": st.Voxels,
			"mean":   st.Mean,
			"std":    st.StdDev,
		}).Debug("volume normalized")
	}

	age, err := s.predictor.Predict(vol)
	if err != nil {
		return 0, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, age); err != nil {
			s.log.WithError(err).Warn("prediction cache store failed")
		}
	}
	return age, nil
}

func digest(upload []byte) string {
	sum := sha256.Sum256(upload)
	return hex.EncodeToString(sum[:])
}

// roundTenth rounds the exact value of v to one decimal, ties to even.
func roundTenth(v float64) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 1, 64), 64)
	if err != nil {
		return v
	}
	return r
}
