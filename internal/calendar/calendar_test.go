package calendar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"svea/internal/logging"
	"svea/pkg/model"
)

func writeCalendar(t *testing.T, content string) *Calendar {
	t.Helper()
	path := filepath.Join(t.TempDir(), "earnings_calendar.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return New(path, logging.Nop())
}

func TestLoad_MixedDateFormats(t *testing.T) {
	c := writeCalendar(t, `date,ticker,company_name,report_time
2025-03-10,VOLV-B.ST,Volvo B,07:20
2025/03/11,ERIC-B.ST,Ericsson B,08:00
12/03/2025,ATCO-A.ST,Atlas Copco A,
14.3.2025,SAND.ST,Sandvik,
17 Mar 2025,SKF-B.ST,SKF B,13:00
`)

	records, err := c.Load()
	require.NoError(t, err)
	require.Len(t, records, 5)

	assert.Equal(t, "2025-03-10", records[0].ReportDate)
	assert.Equal(t, "2025-03-11", records[1].ReportDate)
	assert.Equal(t, "2025-03-12", records[2].ReportDate)
	assert.Equal(t, "2025-03-14", records[3].ReportDate)
	assert.Equal(t, "2025-03-17", records[4].ReportDate)
	assert.Equal(t, "VOLV-B.ST", records[0].Ticker)
	assert.Equal(t, "07:20", records[0].ReportTime)
	assert.Empty(t, records[2].ReportTime)
}

func TestLoad_MissingReportTimeColumn(t *testing.T) {
	c := writeCalendar(t, `date,ticker,company_name
2025-03-10,VOLV-B.ST,Volvo B
`)

	records, err := c.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Empty(t, records[0].ReportTime)
}

func TestLoad_SkipsEmptyTickers(t *testing.T) {
	c := writeCalendar(t, `date,ticker,company_name,report_time
2025-03-10,VOLV-B.ST,Volvo B,
2025-03-10,,Ghost AB,
`)

	records, err := c.Load()
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestForDate(t *testing.T) {
	c := writeCalendar(t, `date,ticker,company_name,report_time
2025-03-10,VOLV-B.ST,Volvo B,
2025-03-10,ERIC-B.ST,Ericsson B,
2025-03-11,SAND.ST,Sandvik,
`)

	records, err := c.ForDate("2025-03-10")
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = c.ForDate("2025-03-12")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUpcoming(t *testing.T) {
	c := writeCalendar(t, `date,ticker,company_name,report_time
2025-03-10,VOLV-B.ST,Volvo B,
2025-03-14,ERIC-B.ST,Ericsson B,
2025-04-01,SAND.ST,Sandvik,
`)

	from := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	records, err := c.Upcoming(from, 7)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "VOLV-B.ST", records[0].Ticker)
	assert.Equal(t, "ERIC-B.ST", records[1].Ticker)
}

func TestAdd_DedupeLastWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.csv")
	c := New(path, logging.Nop())

	require.NoError(t, c.Add(model.EarningsRecord{
		Ticker: "volv-b.st", CompanyName: "Volvo B", ReportDate: "2025-03-10",
	}))
	require.NoError(t, c.Add(model.EarningsRecord{
		Ticker: "VOLV-B.ST", CompanyName: "Volvo B", ReportDate: "2025-03-10", ReportTime: "07:20",
	}))
	require.NoError(t, c.Add(model.EarningsRecord{
		Ticker: "ERIC-B.ST", CompanyName: "Ericsson B", ReportDate: "2025-03-05",
	}))

	records, err := c.Load()
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Sorted by date, duplicate collapsed with the newest report_time
	assert.Equal(t, "ERIC-B.ST", records[0].Ticker)
	assert.Equal(t, "VOLV-B.ST", records[1].Ticker)
	assert.Equal(t, "07:20", records[1].ReportTime)
}

func TestAdd_KeepsEPSColumns(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "cal.csv"), logging.Nop())

	est, rep := 2.45, 2.61
	require.NoError(t, c.Add(model.EarningsRecord{
		Ticker: "VOLV-B.ST", ReportDate: "2025-03-10",
		EstimatedEPS: &est, ReportedEPS: &rep,
	}))

	records, err := c.Load()
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].EstimatedEPS)
	require.NotNil(t, records[0].ReportedEPS)
	assert.Equal(t, 2.45, *records[0].EstimatedEPS)
	assert.Equal(t, 2.61, *records[0].ReportedEPS)
	assert.True(t, records[0].SurprisePasses())
}

func TestImport_MergesAndOverwrites(t *testing.T) {
	c := writeCalendar(t, `date,ticker,company_name,report_time
2025-03-10,VOLV-B.ST,Volvo B,
2025-03-11,SAND.ST,Sandvik,
`)

	src := filepath.Join(t.TempDir(), "import.csv")
	require.NoError(t, os.WriteFile(src, []byte(`date,ticker,company_name,report_time
2025-03-10,VOLV-B.ST,Volvo B,07:20
2025-03-12,ERIC-B.ST,Ericsson B,08:00
`), 0o644))

	n, err := c.Import(src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := c.Load()
	require.NoError(t, err)
	require.Len(t, records, 3)
	// The imported row replaced the existing VOLV-B entry
	assert.Equal(t, "07:20", records[0].ReportTime)
	assert.Equal(t, "ERIC-B.ST", records[2].Ticker)
}

func TestImport_MissingFile(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "cal.csv"), logging.Nop())

	_, err := c.Import(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestAdd_Validation(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "cal.csv"), logging.Nop())

	assert.Error(t, c.Add(model.EarningsRecord{Ticker: "", ReportDate: "2025-03-10"}))
	assert.Error(t, c.Add(model.EarningsRecord{Ticker: "VOLV-B.ST", ReportDate: "not-a-date"}))
}

func TestLoad_UnrecognizedDate(t *testing.T) {
	c := writeCalendar(t, `date,ticker,company_name,report_time
tomorrow,VOLV-B.ST,Volvo B,
`)

	_, err := c.Load()
	assert.Error(t, err)
}
