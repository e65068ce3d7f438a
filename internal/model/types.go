package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

type Label string

const (
	Healthy  Label = "Healthy"
	Diseased Label = "Diseased"
)

// Metadata describes the exported model's tensors. It is read from a JSON
// file next to the model.
type Metadata struct {
	InputName   string  `json:"input_name"`
	OutputName  string  `json:"output_name"`
	InputShape  []int64 `json:"input_shape"`
	OutputShape []int64 `json:"output_shape"`
	ImageSize   int     `json:"image_size"`
}

type Prediction struct {
	Label             Label
	ConfidencePercent float64
	// RawConfidence is the model output, P(Healthy).
	RawConfidence float64
}

func DefaultMetadata(imageSize int) Metadata {
	return Metadata{
		InputName:   "input",
		OutputName:  "output",
		InputShape:  []int64{1, int64(imageSize), int64(imageSize), 3},
		OutputShape: []int64{1, 1},
		ImageSize:   imageSize,
	}
}

// LoadMetadata reads the metadata file at path. A missing file or an empty
// path yields DefaultMetadata; unset fields are filled from the defaults.
func LoadMetadata(path string, imageSize int) (Metadata, error) {
	defaults := DefaultMetadata(imageSize)
	if path == "" {
		return defaults, nil
	}

	metaFile, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}

	if metadata.ImageSize <= 0 {
		metadata.ImageSize = imageSize
		if len(metadata.InputShape) == 4 && metadata.InputShape[1] > 0 {
			metadata.ImageSize = int(metadata.InputShape[1])
		}
	}
	if metadata.InputName == "" {
		metadata.InputName = defaults.InputName
	}
	if metadata.OutputName == "" {
		metadata.OutputName = defaults.OutputName
	}
	if len(metadata.InputShape) == 0 {
		size := int64(metadata.ImageSize)
		metadata.InputShape = []int64{1, size, size, 3}
	}
	if len(metadata.OutputShape) == 0 {
		metadata.OutputShape = defaults.OutputShape
	}

	return metadata, nil
}

// CheckImageSize reports whether the model accepts size x size RGB batches of
// one, which is what the preprocessor produces.
func (m Metadata) CheckImageSize(size int) error {
	if m.ImageSize != size {
		return fmt.Errorf("model expects %dx%d images but preprocessing produces %dx%d",
			m.ImageSize, m.ImageSize, size, size)
	}

	want := []int64{1, int64(size), int64(size), 3}
	if !shapeMatches(want, m.InputShape) {
		return fmt.Errorf("model input shape %v does not accept %v", m.InputShape, want)
	}
	return nil
}

// shapeMatches compares a concrete shape with a model shape in which
// non-positive dimensions are dynamic.
func shapeMatches(shape, model []int64) bool {
	if len(shape) != len(model) {
		return false
	}
	for i, d := range model {
		if d > 0 && d != shape[i] {
			return false
		}
	}
	return true
}

// concreteShape replaces dynamic dimensions with 1.
func concreteShape(model []int64) []int64 {
	out := make([]int64, len(model))
	for i, d := range model {
		if d <= 0 {
			d = 1
		}
		out[i] = d
	}
	return out
}
