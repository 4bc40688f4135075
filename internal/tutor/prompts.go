package tutor

import (
	"fmt"
	"strings"

	"TutorChat/internal/transcript"
)

// SystemInstruction is sent once when a chat session is created.
const SystemInstruction = `You are a patient secondary-school mathematics tutor.
Every student message starts with a header "[CURRENT MODE: ...]". Follow the mode:
- HINT: give one short hint that points at the next idea. Never give the answer.
- GUIDE: walk through the method step by step and ask the student to do each step.
- SOLVE: give a complete worked solution, then check the student understood it.
If the student attaches a photo, read the exercise from it before answering.
Answer in the student's language. Use LaTeX between $...$ for formulas.

When asked for a "STUDENT SUPPORT REPORT", use this template and only facts from the conversation:
` + ReportTemplate

// ReportTemplate is the structure of the student support report.
const ReportTemplate = `1. Topic and exercises worked on
2. What the student did well
3. Misconceptions or recurring mistakes
4. Modes used (hint/guide/solve) and how much help was needed
5. Suggested next practice`

// Placeholder texts returned instead of empty model output.
const (
	EmptyReplyText         = "Let me think about that for a moment..."
	EmptyReportText        = "Unable to generate a report right now."
	NoCredentialReportText = "Please configure an API key to use this feature."
	ReportFailurePrefix    = "Failed to generate the report"
)

// BuildReportPrompt renders the transcript into the summary prompt.
func BuildReportPrompt(turns []transcript.Turn) string {
	var b strings.Builder
	for _, t := range turns {
		text := t.Text
		if strings.TrimSpace(text) == "" && t.Image != nil {
			text = "(attached an image)"
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Role, text)
	}
	return fmt.Sprintf(`Based on the conversation below, write a "STUDENT SUPPORT REPORT" with this template:
%s

Only use information from this conversation.

Conversation:
%s`, ReportTemplate, b.String())
}
