package handlers

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"

	"github.com/Brownie44l1/leaf-api/internal/lgr"
	"github.com/Brownie44l1/leaf-api/internal/model"
	"github.com/Brownie44l1/leaf-api/internal/preprocess"
)

//go:embed static/index.html
var indexPage []byte

type Options struct {
	ImageSize      int
	MaxUploadBytes int64
	// Debug echoes internal error text in 500 responses.
	Debug bool
}

type Handler struct {
	service *model.Service
	opts    Options
}

func NewHandler(service *model.Service, opts Options) *Handler {
	return &Handler{
		service: service,
		opts:    opts,
	}
}

// NewRouter wires the endpoints and middleware.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.Index)
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/predict", h.Predict)
	mux.Handle("GET /metrics", promhttp.Handler())

	return enableCORS(withRequestID(withAccessLog(mux)))
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexPage)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "healthy",
		"model_loaded": h.service.Ready(),
	})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, clientErrorResponse{Error: msgMethod})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)

	upload, aerr, err := readUpload(r)
	if errors.Is(err, errTooLarge) {
		writeJSON(w, http.StatusRequestEntityTooLarge, clientErrorResponse{
			Error: fmt.Sprintf(msgTooLarge, h.opts.MaxUploadBytes>>20),
		})
		return
	}

	var out Outcome
	if aerr != nil {
		out = failure(aerr)
	} else {
		lgr.Logger.Debug("received file",
			slog.String("filename", upload.Filename),
			slog.Int("size", len(upload.Content)),
			slog.String("request_id", requestID(r.Context())),
		)
		out = h.Analyze(upload)
	}

	if out.Err != nil {
		h.logFailure(r, out.Err)
	}
	observeOutcome(out)
	writeOutcome(w, out, h.opts.Debug)
}

// Analyze runs validation, decoding, preprocessing and inference on one
// upload. It never panics; every failure becomes an Outcome with Err set.
func (h *Handler) Analyze(upload Upload) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = failure(newAnalysisError(KindInternal, fmt.Errorf("panic: %v", p)))
		}
	}()

	if aerr := upload.Validate(); aerr != nil {
		return failure(aerr)
	}

	img, _, err := preprocess.Decode(upload.Content)
	if err != nil {
		return failure(newAnalysisError(KindDecode, err))
	}

	tensor, err := preprocess.ToTensor(img, h.opts.ImageSize)
	if err != nil {
		return failure(newAnalysisError(KindPreprocess, err))
	}

	prediction, err := h.service.Infer(tensor)
	switch {
	case errors.Is(err, model.ErrModelLoad):
		return failure(newAnalysisError(KindModelLoad, err))
	case err != nil:
		return failure(newAnalysisError(KindInference, err))
	}

	return success(prediction)
}

func (h *Handler) logFailure(r *http.Request, aerr *AnalysisError) {
	attrs := []any{
		slog.String("kind", aerr.Kind.String()),
		slog.Int("status", aerr.Status),
		slog.String("request_id", requestID(r.Context())),
	}
	if aerr.Err != nil {
		attrs = append(attrs, slog.Any("error", xerrors.Errorf("%s: %w", aerr.Kind, aerr.Err)))
	}

	if aerr.ClientError() {
		lgr.Logger.Warn("rejected upload", attrs...)
		return
	}
	lgr.Logger.Error("prediction error", attrs...)
}
