package tutor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TutorChat/internal/config"
	"TutorChat/internal/transcript"
)

func TestBuildPayloadHeader(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		want string
	}{
		{
			name: "hint",
			req:  Request{Text: "solve 3x = 9", Mode: config.ModeHint},
			want: "[CURRENT MODE: HINT]\n\nStudent question/answer:\nsolve 3x = 9",
		},
		{
			name: "solve",
			req:  Request{Text: "x=3?", Mode: config.ModeSolve},
			want: "[CURRENT MODE: SOLVE]\n\nStudent question/answer:\nx=3?",
		},
		{
			name: "default mode is hint",
			req:  Request{Text: "hello"},
			want: "[CURRENT MODE: HINT]\n\nStudent question/answer:\nhello",
		},
		{
			name: "image only placeholder",
			req:  Request{Image: "data:image/jpeg;base64,/9j/", Mode: config.ModeGuide},
			want: "[CURRENT MODE: GUIDE]\n\nStudent question/answer:\n" + ImageOnlyText,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := BuildPayload(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Text())
		})
	}
}

func TestBuildPayloadTextOnlyHasOneSegment(t *testing.T) {
	p, err := BuildPayload(Request{Text: "hi"})
	require.NoError(t, err)
	assert.True(t, p.IsPlainText())
	assert.Len(t, p.Segments, 1)
}

func TestBuildPayloadWithImage(t *testing.T) {
	p, err := BuildPayload(Request{Text: "is this right?", Image: "data:image/png;base64,AAAA"})
	require.NoError(t, err)
	require.Len(t, p.Segments, 2)
	assert.Contains(t, p.Segments[0].Text, "is this right?")
	require.NotNil(t, p.Segments[1].Media)
	assert.Equal(t, "image/png", p.Segments[1].Media.MIMEType)
	assert.Equal(t, "AAAA", p.Segments[1].Media.Data)
}

func TestParseDataURIRejects(t *testing.T) {
	for _, uri := range []string{
		"AAAA",
		"data:image/png,AAAA",
		"data:;base64,AAAA",
		"data:image/png;base64,",
		"data:image/png;base64,!!!not base64",
	} {
		t.Run(uri, func(t *testing.T) {
			_, err := ParseDataURI(uri)
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestEncodeDataURIRoundTrip(t *testing.T) {
	uri := EncodeDataURI("image/webp", []byte{1, 2, 3})
	media, err := ParseDataURI(uri)
	require.NoError(t, err)
	assert.Equal(t, "image/webp", media.MIMEType)
	assert.Equal(t, "AQID", media.Data)
}

func TestParseDataURIDropsParameters(t *testing.T) {
	media, err := ParseDataURI("data:image/png;name=x.png;base64,AAAA")
	require.NoError(t, err)
	assert.Equal(t, "image/png", media.MIMEType)
	assert.Equal(t, "AAAA", media.Data)

	_, err = ParseDataURI("data:;name=x.png;base64,AAAA")
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestBuildReportPrompt(t *testing.T) {
	img := &transcript.Image{MIMEType: "image/png", DataURI: "data:image/png;base64,AAAA"}
	turns := []transcript.Turn{
		transcript.NewTurn(transcript.RoleUser, "").WithImage(img),
		transcript.NewTurn(transcript.RoleAssistant, "Start by isolating x."),
	}

	prompt := BuildReportPrompt(turns)
	assert.Contains(t, prompt, ReportTemplate)
	assert.Contains(t, prompt, "user: (attached an image)")
	assert.Contains(t, prompt, "assistant: Start by isolating x.")
	assert.NotContains(t, prompt, "AAAA")
}
