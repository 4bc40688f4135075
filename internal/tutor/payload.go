package tutor

import (
	"encoding/base64"
	"fmt"
	"strings"

	"TutorChat/internal/backend"
	"TutorChat/internal/config"
)

// ImageOnlyText stands in for the student's text when only an image is sent.
const ImageOnlyText = "Sent a photo of an exercise"

// Request is one outgoing student message.
type Request struct {
	Text string
	// Image is an optional data URI: data:<mime>;base64,<data>
	Image string
	Mode  config.Mode
}

// BuildPayload assembles the mode header, the student text and the optional
// inline image into a payload.
func BuildPayload(req Request) (backend.Payload, error) {
	text := req.Text
	if strings.TrimSpace(text) == "" && req.Image != "" {
		text = ImageOnlyText
	}

	mode := req.Mode
	if mode == "" {
		mode = config.ModeHint
	}
	header := fmt.Sprintf("[CURRENT MODE: %s]\n\nStudent question/answer:\n%s",
		strings.ToUpper(string(mode)), text)

	payload := backend.TextPayload(header)
	if req.Image == "" {
		return payload, nil
	}

	media, err := ParseDataURI(req.Image)
	if err != nil {
		return backend.Payload{}, err
	}
	payload.Segments = append(payload.Segments, backend.Segment{Media: &media})
	return payload, nil
}

// ParseDataURI splits a base64 data URI into its media type and data.
func ParseDataURI(uri string) (backend.InlineMedia, error) {
	header, data, ok := strings.Cut(uri, ";base64,")
	if !ok {
		return backend.InlineMedia{}, &ValidationError{Field: "image", Reason: "not a base64 data URI"}
	}
	_, mimeType, ok := strings.Cut(header, ":")
	// parameters such as name=x.png follow the type
	mimeType, _, _ = strings.Cut(mimeType, ";")
	if !ok || mimeType == "" {
		return backend.InlineMedia{}, &ValidationError{Field: "image", Reason: "missing media type"}
	}
	if data == "" {
		return backend.InlineMedia{}, &ValidationError{Field: "image", Reason: "empty image data"}
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return backend.InlineMedia{}, &ValidationError{Field: "image", Reason: "data is not valid base64"}
	}
	return backend.InlineMedia{MIMEType: mimeType, Data: data}, nil
}

// EncodeDataURI builds a data URI from raw bytes.
func EncodeDataURI(mimeType string, raw []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)
}
