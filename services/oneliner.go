package services

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"tourgraph/models"
	"tourgraph/textgen"
	"tourgraph/utils"
)

const (
	defaultOneLinerMaxLen = 120
	oneLinerMaxTokens     = 100
	descriptionPromptLen  = 200
)

func oneLinerSystemPrompt(maxLen int) string {
	return fmt.Sprintf(`You write witty, warm, one-line descriptions of tours and experiences.
Your tone is wonder-filled and playful, never snarky or mean.
The goal is to make someone smile and want to share this with a friend.
Keep it under %d characters. No hashtags, no emojis.`, maxLen)
}

// OneLinerWriter asks the text generator for a short hook about a listing.
type OneLinerWriter struct {
	gen    textgen.Generator
	maxLen int
	logger *utils.Logger
}

// NewOneLinerWriter returns a writer that caps output at maxLen characters.
func NewOneLinerWriter(gen textgen.Generator, maxLen int, logger *utils.Logger) *OneLinerWriter {
	if maxLen <= 3 {
		maxLen = defaultOneLinerMaxLen
	}
	return &OneLinerWriter{gen: gen, maxLen: maxLen, logger: logger}
}

// Write returns the one-liner for l, or an error. Callers treat any error as
// "no one-liner yet"; it never blocks persisting the listing.
func (w *OneLinerWriter) Write(ctx context.Context, l *models.Listing) (string, error) {
	raw, err := w.gen.Generate(ctx, textgen.Request{
		System:    oneLinerSystemPrompt(w.maxLen),
		Prompt:    buildOneLinerPrompt(l),
		MaxTokens: oneLinerMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("one-liner for %s: %w", l.Code, err)
	}
	line := cleanOneLiner(raw, w.maxLen)
	if line == "" {
		return "", fmt.Errorf("one-liner for %s: empty response", l.Code)
	}
	return line, nil
}

func buildOneLinerPrompt(l *models.Listing) string {
	rating := "N/A"
	if l.Rating != nil {
		rating = strconv.FormatFloat(*l.Rating, 'f', -1, 64)
	}
	price := "N/A"
	if l.Price != nil {
		price = strconv.FormatFloat(*l.Price, 'f', -1, 64)
	}
	duration := "unknown"
	if l.DurationMinutes != nil && *l.DurationMinutes > 0 {
		hours := math.Round(float64(*l.DurationMinutes)/60*10) / 10
		duration = strconv.FormatFloat(hours, 'f', -1, 64) + " hours"
	}
	desc := l.Description
	if utf8.RuneCountInString(desc) > descriptionPromptLen {
		desc = string([]rune(desc)[:descriptionPromptLen])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tour: %s\n", l.Title)
	fmt.Fprintf(&b, "Location: %s, %s\n", l.PartitionName, l.Country)
	fmt.Fprintf(&b, "Rating: %s stars (%d reviews)\n", rating, l.ReviewCountValue())
	fmt.Fprintf(&b, "Price: $%s\n", price)
	fmt.Fprintf(&b, "Duration: %s\n", duration)
	fmt.Fprintf(&b, "Description: %s\n\n", desc)
	b.WriteString("Write one witty line about this tour.")
	return b.String()
}

// cleanOneLiner trims, strips one layer of matching quotes and truncates to
// maxLen characters with a trailing ellipsis.
func cleanOneLiner(raw string, maxLen int) string {
	s := strings.TrimSpace(raw)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			s = s[1 : len(s)-1]
		}
	}
	if utf8.RuneCountInString(s) > maxLen {
		s = string([]rune(s)[:maxLen-3]) + "..."
	}
	return s
}
