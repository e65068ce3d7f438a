package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

const fileField = "file"

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
}

// Upload is the validated input of one prediction request.
type Upload struct {
	Filename string
	Content  []byte
}

// AllowedFile reports whether filename ends in .png, .jpg or .jpeg, in any case.
func AllowedFile(filename string) bool {
	i := strings.LastIndex(filename, ".")
	if i < 0 {
		return false
	}
	return allowedExtensions[strings.ToLower(filename[i+1:])]
}

func (u Upload) Validate() *AnalysisError {
	if u.Filename == "" {
		return newAnalysisError(KindEmptyFilename, nil)
	}
	if !AllowedFile(u.Filename) {
		return newAnalysisError(KindUnsupportedType, fmt.Errorf("rejected filename %q", u.Filename))
	}
	return nil
}

var errTooLarge = errors.New("request body too large")

// readUpload streams the body to the first "file" part that carries a
// filename parameter. Parts without one are plain form values and are
// skipped, so a bare name="file" field counts as a missing file while
// filename="" counts as an empty selection. r.Body must already be limited.
func readUpload(r *http.Request) (Upload, *AnalysisError, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return Upload{}, newAnalysisError(KindMissingFile, err), nil
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return Upload{}, newAnalysisError(KindMissingFile, errors.New("no file part in form")), nil
		}
		if err != nil {
			if isTooLarge(err) {
				return Upload{}, nil, errTooLarge
			}
			return Upload{}, newAnalysisError(KindMissingFile, err), nil
		}

		if part.FormName() != fileField || !hasFilename(part) {
			part.Close()
			continue
		}

		content, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			if isTooLarge(err) {
				return Upload{}, nil, errTooLarge
			}
			return Upload{}, newAnalysisError(KindDecode, fmt.Errorf("failed to read upload: %w", err)), nil
		}

		return Upload{Filename: part.FileName(), Content: content}, nil, nil
	}
}

func hasFilename(part *multipart.Part) bool {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return false
	}
	_, ok := params["filename"]
	return ok
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
