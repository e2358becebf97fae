package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"tourgraph/models"
	"tourgraph/textgen"
	"tourgraph/utils"
)

const (
	chainMaxRetries       = 2
	chainMaxTokens        = 2000
	chainEndpointListings = 30
	chainHopListings      = 15
	chainMaxIntermediates = 20
	chainMinHopListings   = 10
	chainRetryBaseDelay   = time.Second
)

const chainSystemPrompt = `You are a creative travel writer who finds surprising thematic connections between cities around the world. Your tone is warm, witty, and wonder-filled, like a friend sharing travel discoveries over drinks.

Your job: given two cities, build a chain of real tours that connects them through surprising thematic links across MULTIPLE intermediate cities.

HARD RULES:
1. The chain MUST have exactly 5 stops (including the start and end cities, plus 3 intermediate cities).
2. Every stop MUST be in a DIFFERENT city. Never repeat a city.
3. Every connection MUST use a DIFFERENT theme. Never repeat a theme.
4. You MUST only use tours from the provided list. Each tour has an [id]; include it.

Themes to choose from (use a different one for each connection): cuisine, street food, ancient history, colonial history, sacred spaces, markets/bazaars, street art, nightlife, water activities, hiking/nature, wine/spirits, music, dance, craftsmanship, architecture, wildlife, festivals, meditation/wellness, photography, dark tourism/ghost tours.

The chain should feel like a journey of discovery. Not obvious geographic proximity, but genuine cultural and thematic threads.`

// ChainSource supplies the candidate listings a chain may cite.
type ChainSource interface {
	TopListingsForPartitionName(ctx context.Context, name string, limit int) ([]*models.Listing, error)
	PartitionNamesWithListings(ctx context.Context, minListings int) ([]string, error)
	GetChain(ctx context.Context, a, b string) (*models.ThematicChain, error)
}

// ChainComposer asks the text generator for a chain between two partitions
// and passes each candidate through the validator.
type ChainComposer struct {
	gen       textgen.Generator
	source    ChainSource
	validator *ChainValidator
	logger    *utils.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

func NewChainComposer(gen textgen.Generator, source ChainSource, validator *ChainValidator, logger *utils.Logger) *ChainComposer {
	return &ChainComposer{
		gen:       gen,
		source:    source,
		validator: validator,
		logger:    logger,
		sleep:     utils.SleepContext,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ChainRunReport counts the outcome of composing several pairs.
type ChainRunReport struct {
	Generated int
	Skipped   int
	Failed    int
}

// ComposeAll composes every pair in order. Pairs with a stored chain are
// skipped unless regenerate is set. One failed pair does not stop the run.
func (c *ChainComposer) ComposeAll(ctx context.Context, pairs [][2]string, regenerate bool) (ChainRunReport, error) {
	var report ChainRunReport
	for i, pair := range pairs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !regenerate {
			existing, err := c.source.GetChain(ctx, pair[0], pair[1])
			if err != nil {
				return report, err
			}
			if existing != nil {
				report.Skipped++
				continue
			}
		}

		c.logger.Info("[chains] [%d/%d] %s -> %s", i+1, len(pairs), pair[0], pair[1])
		if _, err := c.Compose(ctx, pair[0], pair[1]); err != nil {
			if ctx.Err() != nil || textgen.Unavailable(err) {
				return report, err
			}
			report.Failed++
			c.logger.Error("[chains] %s -> %s failed: %v", pair[0], pair[1], err)
			continue
		}
		report.Generated++
	}
	return report, nil
}

// Compose builds, validates and stores one chain. Rejected or unparseable
// candidates are retried up to chainMaxRetries times.
func (c *ChainComposer) Compose(ctx context.Context, from, to string) (*models.ThematicChain, error) {
	prompt, err := c.buildPrompt(ctx, from, to)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= chainMaxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Warn("[chains] Retrying %s -> %s (attempt %d/%d): %v",
				from, to, attempt+1, chainMaxRetries+1, lastErr)
		}

		raw, err := c.gen.Generate(ctx, textgen.Request{System: chainSystemPrompt, Prompt: prompt, MaxTokens: chainMaxTokens})
		if err != nil {
			if ctx.Err() != nil || textgen.Unavailable(err) {
				return nil, err
			}
			lastErr = err
			if attempt < chainMaxRetries {
				if err := c.sleep(ctx, chainRetryBaseDelay<<attempt); err != nil {
					return nil, err
				}
			}
			continue
		}

		candidate, err := parseChain(raw)
		if err != nil {
			lastErr = err
			continue
		}
		candidate.From, candidate.To = from, to

		if err := c.validator.Accept(ctx, candidate); err != nil {
			if !models.IsValidation(err) {
				return nil, err
			}
			lastErr = err
			continue
		}
		return candidate, nil
	}
	return nil, fmt.Errorf("chain %s -> %s failed after %d attempts: %w", from, to, chainMaxRetries+1, lastErr)
}

func (c *ChainComposer) buildPrompt(ctx context.Context, from, to string) (string, error) {
	sections := make([]string, 0, chainMaxIntermediates+2)
	for _, name := range []string{from, to} {
		listings, err := c.source.TopListingsForPartitionName(ctx, name, chainEndpointListings)
		if err != nil {
			return "", err
		}
		if len(listings) == 0 {
			return "", &models.ValidationError{Field: "pair", Reason: fmt.Sprintf("no listings found for %q", name)}
		}
		sections = append(sections, formatChainSection(name, listings))
	}

	names, err := c.source.PartitionNamesWithListings(ctx, chainMinHopListings)
	if err != nil {
		return "", err
	}
	hops := make([]string, 0, len(names))
	for _, n := range names {
		if n != from && n != to {
			hops = append(hops, n)
		}
	}
	c.mu.Lock()
	c.rng.Shuffle(len(hops), func(i, j int) { hops[i], hops[j] = hops[j], hops[i] })
	c.mu.Unlock()
	if len(hops) > chainMaxIntermediates {
		hops = hops[:chainMaxIntermediates]
	}
	for _, name := range hops {
		listings, err := c.source.TopListingsForPartitionName(ctx, name, chainHopListings)
		if err != nil {
			return "", err
		}
		if len(listings) > 0 {
			sections = append(sections, formatChainSection(name, listings))
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Connect %s to %s using ONLY tours from this list.\n\n", from, to)
	b.WriteString("AVAILABLE TOURS:\n")
	b.WriteString(strings.Join(sections, "\n\n"))
	fmt.Fprintf(&b, "\n\nBuild a chain of EXACTLY 5 stops: %s -> City2 -> City3 -> City4 -> %s. ", from, to)
	b.WriteString("Each adjacent pair must share a surprising thematic connection using a DIFFERENT theme. All 5 cities must be different.\n\n")
	b.WriteString(`Respond in this exact JSON format:
{
  "chain": [
    {
      "city": "City Name",
      "country": "Country",
      "tour_title": "Exact tour title from the list",
      "tour_id": 123,
      "connection_to_next": "A witty 1-2 sentence description of the thematic link to the next city. null for the last stop.",
      "theme": "one-word theme like 'cuisine' or 'sacred'"
    }
  ],
  "summary": "A witty one-line summary of the entire chain"
}

Remember: EXACTLY 5 stops, 4 different themes, 5 different cities. Only return valid JSON. No markdown code fences.`)
	return b.String(), nil
}

func formatChainSection(name string, listings []*models.Listing) string {
	lines := make([]string, 0, len(listings)+1)
	lines = append(lines, name+":")
	for _, l := range listings {
		rating := "?"
		if l.Rating != nil {
			rating = strconv.FormatFloat(*l.Rating, 'f', 1, 64)
		}
		price := "?"
		if l.Price != nil {
			price = strconv.FormatFloat(*l.Price, 'f', -1, 64)
		}
		lines = append(lines, fmt.Sprintf("  [%d] %q, %s stars, %d reviews, $%s",
			l.ID, l.Title, rating, l.ReviewCountValue(), price))
	}
	return strings.Join(lines, "\n")
}

// parseChain decodes a generator response, tolerating markdown fences.
func parseChain(raw string) (*models.ThematicChain, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, errors.New("empty chain response")
	}
	var out models.ThematicChain
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return nil, fmt.Errorf("decode chain: %w", err)
	}
	return &out, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
