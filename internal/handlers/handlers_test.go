package handlers

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/Brownie44l1/leaf-api/internal/model"
	"github.com/Brownie44l1/leaf-api/internal/preprocess"
)

type fakeClassifier struct {
	score  float32
	err    error
	panics bool
}

func (f *fakeClassifier) Predict(t *preprocess.Tensor) (float32, error) {
	if f.panics {
		panic("tensor index out of range")
	}
	return f.score, f.err
}

func (f *fakeClassifier) Close() error { return nil }

func newTestRouter(t *testing.T, loader model.Loader, opts Options) (http.Handler, *Handler) {
	t.Helper()
	if opts.ImageSize == 0 {
		opts.ImageSize = 128
	}
	if opts.MaxUploadBytes == 0 {
		opts.MaxUploadBytes = 16 << 20
	}
	h := NewHandler(model.NewService(model.NewCache(loader)), opts)
	return NewRouter(h), h
}

func staticLoader(clf model.Classifier) model.Loader {
	return func() (model.Classifier, error) { return clf, nil }
}

func leafPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: uint8(100 + x%100), B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func leafJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 160))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

// uploadRequest builds a multipart POST /predict. An empty field omits the
// file part entirely.
func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		part.Write(content)
	} else {
		mw.WriteField("note", "no file here")
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// formRequest builds a multipart body from raw parts, each given as its
// Content-Disposition header and content.
func formRequest(t *testing.T, parts ...[2]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Disposition": {p[0]}})
		if err != nil {
			t.Fatalf("failed to create part: %v", err)
		}
		w.Write([]byte(p[1]))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/predict", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// hugeCanvasPNG declares a 20000x20000 grayscale image and carries no pixel
// data at all.
func hugeCanvasPNG() []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 17)
	copy(ihdr, "IHDR")
	binary.BigEndian.PutUint32(ihdr[4:], 20000)
	binary.BigEndian.PutUint32(ihdr[8:], 20000)
	ihdr[12] = 8

	binary.Write(&buf, binary.BigEndian, uint32(13))
	buf.Write(ihdr)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(ihdr))
	return buf.Bytes()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%q)", err, rec.Body.String())
	}
	return body
}

func TestPredict_ClientErrors(t *testing.T) {
	router, _ := newTestRouter(t, staticLoader(&fakeClassifier{score: 0.9}), Options{})

	tests := []struct {
		name    string
		req     func(t *testing.T) *http.Request
		wantMsg string
	}{
		{
			name:    "no file field",
			req:     func(t *testing.T) *http.Request { return uploadRequest(t, "", "", nil) },
			wantMsg: "Please select a file to upload",
		},
		{
			name:    "wrong field name",
			req:     func(t *testing.T) *http.Request { return uploadRequest(t, "image", "leaf.png", leafPNG(t, 10, 10)) },
			wantMsg: "Please select a file to upload",
		},
		{
			name: "not a multipart body",
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"file":"x"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			wantMsg: "Please select a file to upload",
		},
		{
			name: "plain file field without filename",
			req: func(t *testing.T) *http.Request {
				return formRequest(t, [2]string{`form-data; name="file"`, "leaf.png"})
			},
			wantMsg: "Please select a file to upload",
		},
		{
			name: "explicit empty filename",
			req: func(t *testing.T) *http.Request {
				return formRequest(t, [2]string{`form-data; name="file"; filename=""`, ""})
			},
			wantMsg: "No file selected",
		},
		{
			name: "file part after plain field of the same name",
			req: func(t *testing.T) *http.Request {
				return formRequest(t,
					[2]string{`form-data; name="file"`, "not a file"},
					[2]string{`form-data; name="file"; filename="notes.txt"`, "text"},
				)
			},
			wantMsg: "Please upload only JPG or PNG images",
		},
		{
			name:    "empty filename",
			req:     func(t *testing.T) *http.Request { return uploadRequest(t, "file", "", []byte{}) },
			wantMsg: "No file selected",
		},
		{
			name:    "disallowed extension",
			req:     func(t *testing.T) *http.Request { return uploadRequest(t, "file", "malware.exe", []byte("MZ")) },
			wantMsg: "Please upload only JPG or PNG images",
		},
		{
			name:    "no extension",
			req:     func(t *testing.T) *http.Request { return uploadRequest(t, "file", "png", leafPNG(t, 10, 10)) },
			wantMsg: "Please upload only JPG or PNG images",
		},
		{
			name: "corrupted image",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "file", "x.png", []byte("\x89PNG\r\n\x1a\ngarbage garbage"))
			},
			wantMsg: "Unable to process the image. Please try another image.",
		},
		{
			name:    "canvas too large to decode",
			req:     func(t *testing.T) *http.Request { return uploadRequest(t, "file", "x.png", hugeCanvasPNG()) },
			wantMsg: "Unable to process the image. Please try another image.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, tt.req(t))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d (%s)", rec.Code, rec.Body.String())
			}

			body := decodeBody(t, rec)
			if len(body) != 1 {
				t.Errorf("expected only an error field, got %v", body)
			}
			if body["error"] != tt.wantMsg {
				t.Errorf("expected error %q, got %q", tt.wantMsg, body["error"])
			}
		})
	}
}

func TestPredict_Success(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		content     func(t *testing.T) []byte
		score       float32
		wantLabel   string
		wantPercent float64
	}{
		{
			name:        "healthy png",
			filename:    "leaf.png",
			content:     func(t *testing.T) []byte { return leafPNG(t, 256, 192) },
			score:       0.9,
			wantLabel:   "Healthy",
			wantPercent: 90,
		},
		{
			name:        "diseased jpeg with uppercase extension",
			filename:    "LEAF.JPEG",
			content:     leafJPEG,
			score:       0.25,
			wantLabel:   "Diseased",
			wantPercent: 75,
		},
		{
			name:        "exactly one half is diseased",
			filename:    "leaf.jpg",
			content:     leafJPEG,
			score:       0.5,
			wantLabel:   "Diseased",
			wantPercent: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newTestRouter(t, staticLoader(&fakeClassifier{score: tt.score}), Options{})

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, uploadRequest(t, "file", tt.filename, tt.content(t)))

			if rec.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d (%s)", rec.Code, rec.Body.String())
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected JSON content type, got %q", ct)
			}

			var resp PredictionResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Prediction != tt.wantLabel {
				t.Errorf("expected prediction %q, got %q", tt.wantLabel, resp.Prediction)
			}
			if resp.Confidence != tt.wantPercent {
				t.Errorf("expected confidence %v, got %v", tt.wantPercent, resp.Confidence)
			}
			if resp.Confidence < 0 || resp.Confidence > 100 {
				t.Errorf("confidence out of range: %v", resp.Confidence)
			}
			if math.Abs(resp.Details.RawConfidence-float64(tt.score)) > 1e-9 {
				t.Errorf("expected raw confidence %v, got %v", tt.score, resp.Details.RawConfidence)
			}
		})
	}
}

func TestPredict_ServerErrors(t *testing.T) {
	tests := []struct {
		name    string
		loader  model.Loader
		opts    Options
		wantMsg string
	}{
		{
			name:    "model load failure",
			loader:  func() (model.Classifier, error) { return nil, errors.New("open model/model.onnx: no such file") },
			wantMsg: "An error occurred during analysis",
		},
		{
			name:    "inference failure",
			loader:  staticLoader(&fakeClassifier{err: errors.New("session run failed")}),
			wantMsg: "An error occurred during analysis",
		},
		{
			name:    "panic during inference",
			loader:  staticLoader(&fakeClassifier{panics: true}),
			wantMsg: "An error occurred during analysis",
		},
		{
			name:    "preprocess failure",
			loader:  staticLoader(&fakeClassifier{score: 0.9}),
			opts:    Options{ImageSize: -1},
			wantMsg: "Error preparing image for analysis",
		},
	}

	for _, tt := range tests {
		for _, debug := range []bool{false, true} {
			opts := tt.opts
			opts.Debug = debug

			t.Run(tt.name, func(t *testing.T) {
				router, _ := newTestRouter(t, tt.loader, opts)

				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, uploadRequest(t, "file", "leaf.png", leafPNG(t, 64, 64)))

				if rec.Code != http.StatusInternalServerError {
					t.Fatalf("expected status 500, got %d (%s)", rec.Code, rec.Body.String())
				}

				body := decodeBody(t, rec)
				if body["error"] != tt.wantMsg {
					t.Errorf("expected error %q, got %q", tt.wantMsg, body["error"])
				}

				details, ok := body["details"]
				if !ok {
					t.Fatal("expected details key in 500 response")
				}
				if !debug && details != nil {
					t.Errorf("details must be null outside debug mode, got %v", details)
				}
				if debug {
					if s, _ := details.(string); s == "" {
						t.Errorf("expected error details in debug mode, got %v", details)
					}
				}
			})
		}
	}
}

func TestPredict_ModelLoadRetried(t *testing.T) {
	attempts := 0
	router, h := newTestRouter(t, func() (model.Classifier, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("artifact not ready")
		}
		return &fakeClassifier{score: 0.7}, nil
	}, Options{})

	content := leafPNG(t, 32, 32)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "leaf.png", content))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("first request: expected 500, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, uploadRequest(t, "file", "leaf.png", content))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d (%s)", i+2, rec.Code, rec.Body.String())
		}
	}

	if attempts != 2 {
		t.Errorf("expected 2 load attempts, got %d", attempts)
	}
	if !h.service.Ready() {
		t.Error("expected model to be cached")
	}
}

func TestPredict_TooLarge(t *testing.T) {
	router, _ := newTestRouter(t, staticLoader(&fakeClassifier{score: 0.9}), Options{MaxUploadBytes: 1 << 20})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "leaf.png", bytes.Repeat([]byte{0xAB}, 2<<20)))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status 413, got %d (%s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if !strings.Contains(body["error"].(string), "1 MB") {
		t.Errorf("expected limit in message, got %q", body["error"])
	}
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	router, _ := newTestRouter(t, staticLoader(&fakeClassifier{}), Options{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/predict", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Method not allowed" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t, staticLoader(&fakeClassifier{score: 0.6}), Options{})

	check := func(want bool) {
		t.Helper()
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		body := decodeBody(t, rec)
		if body["status"] != "healthy" {
			t.Errorf("expected status healthy, got %v", body["status"])
		}
		if body["model_loaded"] != want {
			t.Errorf("expected model_loaded=%v, got %v", want, body["model_loaded"])
		}
	}

	check(false)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, uploadRequest(t, "file", "leaf.png", leafPNG(t, 16, 16)))
	if rec.Code != http.StatusOK {
		t.Fatalf("predict: expected 200, got %d", rec.Code)
	}

	check(true)
}

func TestRouter(t *testing.T) {
	router, _ := newTestRouter(t, staticLoader(&fakeClassifier{}), Options{})

	t.Run("index page", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
			t.Errorf("expected HTML, got %q", rec.Header().Get("Content-Type"))
		}
		if !strings.Contains(rec.Body.String(), `name="file"`) {
			t.Error("expected upload form with file field")
		}
	})

	t.Run("unknown path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "http_requests_total") {
			t.Error("expected request counter in metrics output")
		}
	})

	t.Run("request id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("X-Request-ID", "abc-123")
		router.ServeHTTP(rec, req)
		if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
			t.Errorf("expected request id to be echoed, got %q", got)
		}

		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("expected generated request id")
		}
	})

	t.Run("cors preflight", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/predict", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
		if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
			t.Error("expected CORS header")
		}
	})
}

func TestAllowedFile(t *testing.T) {
	tests := []struct {
		filename string
		want     bool
	}{
		{"leaf.png", true},
		{"leaf.PNG", true},
		{"leaf.jpg", true},
		{"leaf.Jpeg", true},
		{"archive.tar.png", true},
		{"leaf.png.exe", false},
		{"malware.exe", false},
		{"leaf.gif", false},
		{"png", false},
		{"leaf.", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := AllowedFile(tt.filename); got != tt.want {
			t.Errorf("AllowedFile(%q) = %v, want %v", tt.filename, got, tt.want)
		}
	}
}
