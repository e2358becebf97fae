package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"tourgraph/models"
)

func TestCleanOneLiner(t *testing.T) {
	long := strings.Repeat("ab", 80)
	tests := []struct {
		raw    string
		maxLen int
		want   string
	}{
		{"  Plain line. ", 120, "Plain line."},
		{`"Quoted line."`, 120, "Quoted line."},
		{`'Single quotes.'`, 120, "Single quotes."},
		{`"Mismatched.'`, 120, `"Mismatched.'`},
		{`""`, 120, ""},
		{long, 20, long[:17] + "..."},
		{"Crème brûlée über alles", 10, "Crème b..."},
	}
	for _, tt := range tests {
		if got := cleanOneLiner(tt.raw, tt.maxLen); got != tt.want {
			t.Errorf("cleanOneLiner(%q, %d) = %q; want %q", tt.raw, tt.maxLen, got, tt.want)
		}
	}
}

func TestBuildOneLinerPrompt(t *testing.T) {
	l := testListing("P1", models.CategoryWildcard, func(l *models.Listing) {
		l.Title = "Vespa Pasta Crawl"
		l.DurationMinutes = models.Int(150)
		l.Description = strings.Repeat("x", 300)
	})
	got := buildOneLinerPrompt(l)
	for _, want := range []string{
		"Tour: Vespa Pasta Crawl\n",
		"Location: Rome, Italy\n",
		"Rating: 4.6 stars (120 reviews)\n",
		"Price: $80\n",
		"Duration: 2.5 hours\n",
		"Description: " + strings.Repeat("x", 200) + "\n\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt is missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, strings.Repeat("x", 201)) {
		t.Errorf("description was not cut to 200 characters")
	}

	bare := &models.Listing{Title: "Mystery"}
	got = buildOneLinerPrompt(bare)
	for _, want := range []string{"Rating: N/A stars (0 reviews)", "Price: $N/A", "Duration: unknown"} {
		if !strings.Contains(got, want) {
			t.Errorf("bare prompt is missing %q", want)
		}
	}
}

func TestOneLinerWriterWrite(t *testing.T) {
	ctx := context.Background()
	l := testListing("P1", models.CategoryWildcard, nil)

	gen := &scriptedGenerator{replies: []string{`  "Rome wasn't built in a day, but lunch was."  `}}
	w := NewOneLinerWriter(gen, 30, newTestLogger())
	line, err := w.Write(ctx, l)
	if err != nil {
		t.Fatal(err)
	}
	if utf8.RuneCountInString(line) > 30 || !strings.HasSuffix(line, "...") {
		t.Errorf("Write() = %q; want at most 30 characters ending in ...", line)
	}
	req := gen.requests[0]
	if req.MaxTokens != oneLinerMaxTokens || !strings.Contains(req.System, "under 30 characters") {
		t.Errorf("request = %+v", req)
	}

	empty := NewOneLinerWriter(&scriptedGenerator{replies: []string{"   "}}, 0, newTestLogger())
	if _, err := empty.Write(ctx, l); err == nil {
		t.Errorf("Write() with a blank reply error = nil")
	}

	boom := errors.New("boom")
	failing := NewOneLinerWriter(&scriptedGenerator{errs: []error{boom}}, 0, newTestLogger())
	if _, err := failing.Write(ctx, l); !errors.Is(err, boom) {
		t.Errorf("Write() error = %v; want it to wrap %v", err, boom)
	}
}
