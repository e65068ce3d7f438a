package model

import (
	"fmt"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/Brownie44l1/leaf-api/internal/preprocess"
)

// Classifier is a loaded binary classifier. Predict must be safe for
// concurrent use.
type Classifier interface {
	// Predict returns P(Healthy) for a single-image batch.
	Predict(t *preprocess.Tensor) (float32, error)
	Close() error
}

type ONNXOptions struct {
	ModelPath    string
	MetadataPath string
	LibraryPath  string
	ImageSize    int
}

// ONNXClassifier runs an exported model with ONNX Runtime. Tensors are
// allocated per call, so one session serves concurrent requests.
type ONNXClassifier struct {
	session  *ort.DynamicAdvancedSession
	Metadata Metadata
}

var envMu sync.Mutex

func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()

	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}
	return nil
}

func NewONNXClassifier(opts ONNXOptions) (*ONNXClassifier, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("model artifact unavailable: %w", err)
	}

	metadata, err := LoadMetadata(opts.MetadataPath, opts.ImageSize)
	if err != nil {
		return nil, err
	}
	if err := metadata.CheckImageSize(opts.ImageSize); err != nil {
		return nil, fmt.Errorf("model metadata %s: %w", opts.MetadataPath, err)
	}

	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, err
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXClassifier{
		session:  session,
		Metadata: metadata,
	}, nil
}

func (c *ONNXClassifier) Predict(t *preprocess.Tensor) (float32, error) {
	if !shapeMatches(t.Shape, c.Metadata.InputShape) {
		return 0, fmt.Errorf("input shape %v does not match model input %v", t.Shape, c.Metadata.InputShape)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
	if err != nil {
		return 0, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(concreteShape(c.Metadata.OutputShape)...))
	if err != nil {
		return 0, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := c.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}

	outputData := outputTensor.GetData()
	if len(outputData) == 0 {
		return 0, fmt.Errorf("model returned no output")
	}

	score := outputData[0]
	if math.IsNaN(float64(score)) {
		return 0, fmt.Errorf("model returned NaN")
	}

	return score, nil
}

func (c *ONNXClassifier) Close() error {
	var err error
	if c.session != nil {
		err = c.session.Destroy()
		c.session = nil
	}

	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		if destroyErr := ort.DestroyEnvironment(); err == nil {
			err = destroyErr
		}
	}
	return err
}
