package handlers

import (
	"fmt"
	"net/http"
)

type Kind int

const (
	KindMissingFile Kind = iota + 1
	KindEmptyFilename
	KindUnsupportedType
	KindDecode
	KindPreprocess
	KindModelLoad
	KindInference
	KindInternal
)

const (
	msgMissingFile     = "Please select a file to upload"
	msgEmptyFilename   = "No file selected"
	msgUnsupportedType = "Please upload only JPG or PNG images"
	msgDecode          = "Unable to process the image. Please try another image."
	msgPreprocess      = "Error preparing image for analysis"
	msgAnalysis        = "An error occurred during analysis"
	msgTooLarge        = "File is too large. Maximum upload size is %d MB"
	msgMethod          = "Method not allowed"
)

var kinds = map[Kind]struct {
	name    string
	status  int
	message string
}{
	KindMissingFile:     {"missing_file", http.StatusBadRequest, msgMissingFile},
	KindEmptyFilename:   {"empty_filename", http.StatusBadRequest, msgEmptyFilename},
	KindUnsupportedType: {"unsupported_type", http.StatusBadRequest, msgUnsupportedType},
	KindDecode:          {"decode", http.StatusBadRequest, msgDecode},
	KindPreprocess:      {"preprocess", http.StatusInternalServerError, msgPreprocess},
	KindModelLoad:       {"model_load", http.StatusInternalServerError, msgAnalysis},
	KindInference:       {"inference", http.StatusInternalServerError, msgAnalysis},
	KindInternal:        {"internal", http.StatusInternalServerError, msgAnalysis},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// AnalysisError is a failed pipeline stage. Message is what the client sees;
// Err is logged and only echoed in debug mode.
type AnalysisError struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func newAnalysisError(kind Kind, err error) *AnalysisError {
	info, ok := kinds[kind]
	if !ok {
		info = kinds[KindInternal]
	}
	return &AnalysisError{
		Kind:    kind,
		Status:  info.status,
		Message: info.message,
		Err:     err,
	}
}

func (e *AnalysisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// ClientError reports whether the failure was caused by the request.
func (e *AnalysisError) ClientError() bool {
	return e.Status < http.StatusInternalServerError
}
