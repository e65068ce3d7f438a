package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/Brownie44l1/leaf-api/internal/preprocess"
)

var ErrInference = errors.New("inference failed")

// threshold is exclusive: a score of exactly 0.5 is Diseased.
const threshold = 0.5

type Service struct {
	cache *Cache
}

func NewService(cache *Cache) *Service {
	return &Service{cache: cache}
}

// Infer runs the cached model on t. Load failures wrap ErrModelLoad, model
// failures wrap ErrInference.
func (s *Service) Infer(t *preprocess.Tensor) (Prediction, error) {
	classifier, err := s.cache.Get()
	if err != nil {
		return Prediction{}, err
	}

	score, err := classifier.Predict(t)
	if err != nil {
		return Prediction{}, fmt.Errorf("%w: %w", ErrInference, err)
	}

	return Interpret(float64(score)), nil
}

func (s *Service) Ready() bool {
	return s.cache.Loaded()
}

// Interpret maps P(Healthy) to a label and a percentage rounded to 2 places.
func Interpret(confidence float64) Prediction {
	if confidence > threshold {
		return Prediction{
			Label:             Healthy,
			ConfidencePercent: round2(confidence * 100),
			RawConfidence:     confidence,
		}
	}

	return Prediction{
		Label:             Diseased,
		ConfidencePercent: round2((1 - confidence) * 100),
		RawConfidence:     confidence,
	}
}

// round2 rounds exact ties to even, so 90.625 becomes 90.62.
func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
