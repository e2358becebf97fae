package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"tourgraph/models"
)

// CSVWriter exports listing snapshots to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

var csvHeader = []string{
	"code", "title", "partition", "country", "continent", "timezone",
	"rating", "review_count", "price", "currency", "duration_minutes",
	"category", "status", "one_liner", "booking_url", "last_seen",
}

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// Write appends one row per listing.
func (c *CSVWriter) Write(listings []*models.Listing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range listings {
		if err := c.writer.Write(csvRow(l)); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

func csvRow(l *models.Listing) []string {
	oneLiner := ""
	if l.OneLiner != nil {
		oneLiner = *l.OneLiner
	}
	return []string{
		l.Code,
		l.Title,
		l.PartitionName,
		l.Country,
		l.Continent,
		l.Timezone,
		optFloat(l.Rating, 2),
		optInt(l.ReviewCount),
		optFloat(l.Price, 2),
		l.Currency,
		optInt(l.DurationMinutes),
		string(l.Category),
		string(l.Status),
		strings.TrimSpace(oneLiner),
		l.BookingURL,
		l.LastSeen.UTC().Format(time.RFC3339),
	}
}

func optFloat(v *float64, prec int) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
