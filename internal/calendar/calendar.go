package calendar

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"go.uber.org/zap"

	"svea/pkg/model"
)

// Date formats accepted in calendar files. Swedish calendar exports are
// not consistent about this.
var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"2.1.2006",
	"2 Jan 2006",
}

// Date is a calendar date that decodes from any accepted format and
// encodes as YYYY-MM-DD.
type Date struct {
	time.Time
}

// UnmarshalCSV implements gocsv.TypeUnmarshaller.
func (d *Date) UnmarshalCSV(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("unrecognized date %q", s)
}

// MarshalCSV implements gocsv.TypeMarshaller.
func (d Date) MarshalCSV() (string, error) {
	return d.Format("2006-01-02"), nil
}

// row is the CSV shape: date, ticker, company_name, optional report_time.
type row struct {
	Date         Date     `csv:"date"`
	Ticker       string   `csv:"ticker"`
	CompanyName  string   `csv:"company_name"`
	ReportTime   string   `csv:"report_time"`
	EstimatedEPS *float64 `csv:"estimated_eps"`
	ReportedEPS  *float64 `csv:"reported_eps"`
}

// Calendar manages the earnings report calendar CSV file. The ticker is the
// join key into market data; the company name is display-only.
type Calendar struct {
	path string
	log  *zap.SugaredLogger
}

// New creates a calendar backed by the CSV file at path.
func New(path string, log *zap.SugaredLogger) *Calendar {
	return &Calendar{path: path, log: log}
}

// Load reads all records, dropping rows without a ticker.
func (c *Calendar) Load() ([]model.EarningsRecord, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, fmt.Errorf("opening calendar: %w", err)
	}
	defer f.Close()

	var rows []row
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("parsing calendar: %w", err)
	}

	records := make([]model.EarningsRecord, 0, len(rows))
	for _, r := range rows {
		ticker := strings.ToUpper(strings.TrimSpace(r.Ticker))
		if ticker == "" {
			continue
		}
		records = append(records, model.EarningsRecord{
			Ticker:       ticker,
			CompanyName:  strings.TrimSpace(r.CompanyName),
			ReportDate:   r.Date.Format("2006-01-02"),
			ReportTime:   strings.TrimSpace(r.ReportTime),
			EstimatedEPS: r.EstimatedEPS,
			ReportedEPS:  r.ReportedEPS,
		})
	}

	c.log.Infow("loaded earnings calendar", "path", c.path, "records", len(records))
	return records, nil
}

// ForDate returns the records reporting on the given YYYY-MM-DD date.
func (c *Calendar) ForDate(date string) ([]model.EarningsRecord, error) {
	all, err := c.Load()
	if err != nil {
		return nil, err
	}

	var out []model.EarningsRecord
	for _, r := range all {
		if r.ReportDate == date {
			out = append(out, r)
		}
	}
	return out, nil
}

// Upcoming returns records within [from, from+days], sorted by date.
func (c *Calendar) Upcoming(from time.Time, days int) ([]model.EarningsRecord, error) {
	all, err := c.Load()
	if err != nil {
		return nil, err
	}

	start := from.Format("2006-01-02")
	end := from.AddDate(0, 0, days).Format("2006-01-02")

	var out []model.EarningsRecord
	for _, r := range all {
		if r.ReportDate >= start && r.ReportDate <= end {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportDate < out[j].ReportDate })
	return out, nil
}

// Add appends a record, collapsing duplicates on (date, ticker) with the
// newest entry winning, and saves the calendar sorted by date. A missing
// file is created.
func (c *Calendar) Add(rec model.EarningsRecord) error {
	existing, err := c.Load()
	if err != nil {
		if _, statErr := os.Stat(c.path); statErr == nil {
			return err // corrupt file, don't clobber it
		}
		existing = nil
	}

	rec.Ticker = strings.ToUpper(strings.TrimSpace(rec.Ticker))
	if rec.Ticker == "" {
		return fmt.Errorf("ticker is required")
	}
	if _, err := time.Parse("2006-01-02", rec.ReportDate); err != nil {
		return fmt.Errorf("invalid report date %q: %w", rec.ReportDate, err)
	}

	merged := make([]model.EarningsRecord, 0, len(existing)+1)
	for _, r := range existing {
		if r.Ticker == rec.Ticker && r.ReportDate == rec.ReportDate {
			continue
		}
		merged = append(merged, r)
	}
	merged = append(merged, rec)

	return c.save(merged)
}

// Import merges all records from another calendar CSV into this one.
// Imported rows win on a (ticker, report date) collision. Returns the
// number of records imported.
func (c *Calendar) Import(path string) (int, error) {
	src := &Calendar{path: path, log: c.log}
	incoming, err := src.Load()
	if err != nil {
		return 0, err
	}
	if len(incoming) == 0 {
		return 0, fmt.Errorf("no records in %s", path)
	}

	existing, err := c.Load()
	if err != nil {
		if _, statErr := os.Stat(c.path); statErr == nil {
			return 0, err // corrupt file, don't clobber it
		}
		existing = nil
	}

	seen := make(map[string]bool, len(incoming))
	for _, r := range incoming {
		seen[r.Ticker+"|"+r.ReportDate] = true
	}

	merged := make([]model.EarningsRecord, 0, len(existing)+len(incoming))
	for _, r := range existing {
		if seen[r.Ticker+"|"+r.ReportDate] {
			continue
		}
		merged = append(merged, r)
	}
	merged = append(merged, incoming...)

	return len(incoming), c.save(merged)
}

func (c *Calendar) save(records []model.EarningsRecord) error {
	sort.Slice(records, func(i, j int) bool {
		if records[i].ReportDate != records[j].ReportDate {
			return records[i].ReportDate < records[j].ReportDate
		}
		return records[i].Ticker < records[j].Ticker
	})

	rows := make([]row, len(records))
	for i, r := range records {
		t, err := time.Parse("2006-01-02", r.ReportDate)
		if err != nil {
			return fmt.Errorf("invalid stored date %q: %w", r.ReportDate, err)
		}
		rows[i] = row{
			Date:         Date{t},
			Ticker:       r.Ticker,
			CompanyName:  r.CompanyName,
			ReportTime:   r.ReportTime,
			EstimatedEPS: r.EstimatedEPS,
			ReportedEPS:  r.ReportedEPS,
		}
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("creating calendar directory: %w", err)
	}
	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("creating calendar: %w", err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return fmt.Errorf("writing calendar: %w", err)
	}

	c.log.Infow("saved earnings calendar", "path", c.path, "records", len(rows))
	return nil
}
