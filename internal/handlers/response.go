package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/Brownie44l1/leaf-api/internal/model"
)

type PredictionResponse struct {
	Prediction string            `json:"prediction"`
	Confidence float64           `json:"confidence"`
	Details    PredictionDetails `json:"details"`
}

type PredictionDetails struct {
	RawConfidence float64 `json:"raw_confidence"`
}

type clientErrorResponse struct {
	Error string `json:"error"`
}

type serverErrorResponse struct {
	Error   string  `json:"error"`
	Details *string `json:"details"`
}

// Outcome is the result of one analysis: exactly one of Prediction and Err
// is set.
type Outcome struct {
	Prediction *PredictionResponse
	Err        *AnalysisError
}

func success(p model.Prediction) Outcome {
	return Outcome{Prediction: &PredictionResponse{
		Prediction: string(p.Label),
		Confidence: p.ConfidencePercent,
		Details:    PredictionDetails{RawConfidence: p.RawConfidence},
	}}
}

func failure(err *AnalysisError) Outcome {
	return Outcome{Err: err}
}

func (o Outcome) Status() int {
	if o.Err != nil {
		return o.Err.Status
	}
	return http.StatusOK
}

// body builds the JSON payload. Internal error text is included only when
// debug is set.
func (o Outcome) body(debug bool) any {
	if o.Err == nil {
		return o.Prediction
	}
	if o.Err.ClientError() {
		return clientErrorResponse{Error: o.Err.Message}
	}

	resp := serverErrorResponse{Error: o.Err.Message}
	if debug && o.Err.Err != nil {
		details := o.Err.Err.Error()
		resp.Details = &details
	}
	return resp
}

func writeOutcome(w http.ResponseWriter, o Outcome, debug bool) {
	writeJSON(w, o.Status(), o.body(debug))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
