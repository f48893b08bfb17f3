package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"svea/internal/backtest"
	"svea/internal/calendar"
	"svea/internal/config"
	"svea/internal/detector"
	"svea/internal/logging"
	"svea/internal/market"
	"svea/internal/monitor"
	"svea/internal/provider"
	"svea/internal/scheduler"
	"svea/internal/screener"
	"svea/internal/store"
	"svea/internal/web"
	"svea/pkg/model"
)

var (
	cfgFile string
	format  string
)

func main() {
	godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "svea",
		Short: "Earnings-day momentum screener for Stockholm-listed equities",
		Long: `Svea screens companies reporting earnings, monitors them through the
morning signal window and paper-trades gap-and-go breakouts.

Examples:
  svea screen
  svea monitor
  svea backtest --from 2024-01-01 --to 2024-12-31
  svea serve
  svea daemon`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "output format: table, json")

	rootCmd.AddCommand(
		screenCmd(),
		monitorCmd(),
		backtestCmd(),
		serveCmd(),
		daemonCmd(),
		calendarCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app bundles the wired components every command starts from.
type app struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	schedule *market.Schedule
	provider provider.Provider
	store    *store.Store
	calendar *calendar.Calendar
}

func newApp() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	schedule, err := market.NewSchedule(cfg.Market)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	yahoo := provider.NewYahoo(schedule, cfg.Data.RateLimit)
	fallback := provider.NewFallbackProvider(yahoo)

	return &app{
		cfg:      cfg,
		log:      log,
		schedule: schedule,
		provider: fallback,
		store:    st,
		calendar: calendar.New(cfg.Data.CalendarPath, log),
	}, nil
}

func (a *app) close() {
	a.store.Close()
	a.log.Sync()
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func screenCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Build today's watchlist from the earnings calendar",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			if date == "" {
				date = a.schedule.DateKey(time.Now())
			}

			sc := screener.New(a.provider, a.store, a.calendar, a.cfg.Screening, a.log)
			entries, err := sc.Run(ctx, date)
			if err != nil {
				return err
			}

			if format == "json" {
				return outputJSON(map[string]any{"date": date, "watchlist": entries})
			}
			return outputWatchlist(date, entries)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "trading date YYYY-MM-DD (default: today)")
	return cmd
}

func monitorCmd() *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Poll the watchlist for entry signals until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			var until time.Time
			if duration > 0 {
				until = time.Now().Add(duration)
			}

			m := newMonitor(a)
			fmt.Println("Monitoring watchlist. Ctrl+C to stop.")
			err = m.Run(ctx, until)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (default: run until interrupted)")
	return cmd
}

func newMonitor(a *app) *monitor.Monitor {
	det := detector.New(detector.Config{
		GapThresholdPct: a.cfg.Screening.MinGapPct,
		StaleAfter:      a.cfg.Monitoring.StaleAfter,
	}, a.schedule, nil, a.log)
	return monitor.New(a.provider, a.store, det, a.schedule, nil, a.cfg.Monitoring, a.log)
}

func backtestCmd() *cobra.Command {
	var (
		from, to     string
		tickers      []string
		surprise     bool
		trailingStop bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay the strategy over historical earnings dates",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			records, err := a.calendar.Load()
			if err != nil {
				return fmt.Errorf("loading earnings calendar: %w", err)
			}
			records = filterRange(records, from, to)
			records = filterTickers(records, tickers)
			if len(records) == 0 {
				return fmt.Errorf("no earnings records between %s and %s", from, to)
			}

			if cmd.Flags().Changed("surprise") {
				a.cfg.Trading.EarningsSurprise = surprise
			}
			if cmd.Flags().Changed("trailing-stop") {
				a.cfg.Trading.TrailingStop = trailingStop
			}

			fmt.Printf("Backtesting %d earnings events...\n\n", len(records))
			bar := progressbar.NewOptions(len(records),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowCount(),
				progressbar.OptionSetWidth(40),
				progressbar.OptionSetDescription("Backtesting"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]█[reset]",
					SaucerHead:    "[green]█[reset]",
					SaucerPadding: "░",
					BarStart:      "[",
					BarEnd:        "]",
				}),
			)

			engine := backtest.NewEngine(a.provider, a.schedule, a.cfg, a.log)
			result, err := engine.Run(ctx, records, func(done, total int) {
				bar.Set(done)
			})
			if err != nil {
				return err
			}
			bar.Finish()
			fmt.Println()

			if format == "json" {
				return outputJSON(result)
			}
			return outputBacktest(result)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "start date YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "end date YYYY-MM-DD (inclusive)")
	cmd.Flags().StringSliceVar(&tickers, "tickers", nil, "restrict to these tickers")
	cmd.Flags().BoolVar(&surprise, "surprise", false, "require a positive earnings surprise")
	cmd.Flags().BoolVar(&trailingStop, "trailing-stop", false, "use the trailing stop instead of holding to the close")
	return cmd
}

func filterRange(records []model.EarningsRecord, from, to string) []model.EarningsRecord {
	out := records[:0]
	for _, r := range records {
		if from != "" && r.ReportDate < from {
			continue
		}
		if to != "" && r.ReportDate > to {
			continue
		}
		out = append(out, r)
	}
	return out
}

func filterTickers(records []model.EarningsRecord, tickers []string) []model.EarningsRecord {
	if len(tickers) == 0 {
		return records
	}
	want := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		want[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	out := records[:0]
	for _, r := range records {
		if want[r.Ticker] {
			out = append(out, r)
		}
	}
	return out
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read API and manual-override endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			if port > 0 {
				a.cfg.Web.Port = port
			}

			srv := web.NewServer(a.store, a.schedule, nil, nil, a.cfg.Web, a.log)
			fmt.Printf("Serving on :%d. Ctrl+C to stop.\n", a.cfg.Web.Port)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "listen port (default: from config)")
	return cmd
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the full daily pipeline on a schedule, with the web API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			sc := screener.New(a.provider, a.store, a.calendar, a.cfg.Screening, a.log)
			m := newMonitor(a)

			jobs := &daemonJobs{app: a, screener: sc, monitor: m}
			sched := scheduler.New(jobs, a.schedule, nil, a.log)

			srv := web.NewServer(a.store, a.schedule, nil, schedulerStatus{sched}, a.cfg.Web, a.log)

			errCh := make(chan error, 2)
			go func() { errCh <- sched.Start(ctx) }()
			go func() { errCh <- srv.Start(ctx) }()

			fmt.Println("Daemon running. Ctrl+C to stop.")
			err = <-errCh
			cancel()
			<-errCh
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

// daemonJobs adapts the wired components to the scheduler's job interface.
type daemonJobs struct {
	app      *app
	screener *screener.Screener
	monitor  *monitor.Monitor
}

func (j *daemonJobs) Screen(ctx context.Context, date string) error {
	_, err := j.screener.Run(ctx, date)
	return err
}

func (j *daemonJobs) Monitor(ctx context.Context, until time.Time) error {
	return j.monitor.Run(ctx, until)
}

func (j *daemonJobs) CloseTrades(ctx context.Context) error {
	return j.monitor.CloseOpenTrades(ctx)
}

func (j *daemonJobs) Cleanup(ctx context.Context) error {
	maxAge := j.app.cfg.Monitoring.SnapshotMaxAge
	cutoff := j.app.schedule.DateKey(time.Now().AddDate(0, 0, -maxAge))
	n, err := j.app.store.DeleteSnapshotsBefore(cutoff)
	if err != nil {
		return err
	}
	j.app.log.Infow("snapshot cleanup", "removed", n, "before", cutoff)
	return nil
}

// schedulerStatus adapts the scheduler registry to the web status source.
type schedulerStatus struct {
	s *scheduler.Scheduler
}

func (a schedulerStatus) Status() []web.JobInfo {
	statuses := a.s.Status()
	infos := make([]web.JobInfo, len(statuses))
	for i, st := range statuses {
		infos[i] = web.JobInfo{
			Name:    st.Name,
			LastRun: st.LastRun,
			LastErr: st.LastErr,
			NextRun: st.NextRun,
		}
	}
	return infos
}

func calendarCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Inspect and edit the earnings calendar",
	}
	cmd.AddCommand(calendarListCmd(), calendarAddCmd(), calendarImportCmd())
	return cmd
}

func calendarImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Merge earnings records from another calendar CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.calendar.Import(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d records from %s\n", n, args[0])
			return nil
		},
	}
}

func calendarListCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List upcoming earnings reports",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			records, err := a.calendar.Upcoming(time.Now(), days)
			if err != nil {
				return err
			}
			if format == "json" {
				return outputJSON(records)
			}
			if len(records) == 0 {
				fmt.Printf("No earnings reports in the next %d days.\n", days)
				return nil
			}

			table := tablewriter.NewTable(os.Stdout,
				tablewriter.WithHeader([]string{"Date", "Ticker", "Company", "Time"}),
			)
			for _, r := range records {
				table.Append([]string{r.ReportDate, r.Ticker, r.CompanyName, r.ReportTime})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 14, "horizon in days")
	return cmd
}

func calendarAddCmd() *cobra.Command {
	var (
		ticker, name, date, reportTime string
		estimatedEPS                   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update one earnings calendar entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			rec := model.EarningsRecord{
				Ticker:      ticker,
				CompanyName: name,
				ReportDate:  date,
				ReportTime:  reportTime,
			}
			if estimatedEPS != "" {
				eps, err := strconv.ParseFloat(estimatedEPS, 64)
				if err != nil {
					return fmt.Errorf("invalid estimated EPS %q", estimatedEPS)
				}
				rec.EstimatedEPS = &eps
			}

			if err := a.calendar.Add(rec); err != nil {
				return err
			}
			fmt.Printf("Added %s reporting %s\n", rec.Ticker, rec.ReportDate)
			return nil
		},
	}

	cmd.Flags().StringVar(&ticker, "ticker", "", "ticker symbol (required)")
	cmd.Flags().StringVar(&name, "name", "", "company name")
	cmd.Flags().StringVar(&date, "date", "", "report date YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&reportTime, "time", "", "report time: before-market, after-market")
	cmd.Flags().StringVar(&estimatedEPS, "estimated-eps", "", "consensus EPS estimate")
	cmd.MarkFlagRequired("ticker")
	cmd.MarkFlagRequired("date")
	return cmd
}

func outputWatchlist(date string, entries []model.WatchlistEntry) error {
	if len(entries) == 0 {
		fmt.Printf("No stocks passed the momentum filter for %s.\n", date)
		return nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].TrendScore > entries[j].TrendScore
	})

	fmt.Printf("Watchlist for %s (%d stocks):\n\n", date, len(entries))
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Ticker", "Name", "Score", "Price", "SMA200", "3M", "1Y", "Report"}),
	)
	for _, e := range entries {
		name := e.Name
		if len(name) > 18 {
			name = name[:18] + "..."
		}
		table.Append([]string{
			e.Ticker,
			name,
			fmt.Sprintf("%.0f", e.TrendScore),
			fmt.Sprintf("%.2f", e.CurrentPrice),
			fmt.Sprintf("%.2f", e.SMA200),
			fmt.Sprintf("%+.1f%%", e.Return3M),
			fmt.Sprintf("%+.1f%%", e.Return1Y),
			e.ReportTime,
		})
	}
	table.Render()
	return nil
}

func outputBacktest(result *backtest.Result) error {
	m := result.Metrics
	fmt.Printf("Backtest %s to %s\n\n", result.From, result.To)
	fmt.Printf("Candidates:       %d\n", m.Candidates)
	fmt.Printf("Passed momentum:  %d\n", m.PassedMomentum)
	fmt.Printf("Trades taken:     %d\n", m.Signals)
	if m.Signals > 0 {
		fmt.Printf("Win rate:         %.1f%% (%d W / %d L)\n", m.WinRate, m.Wins, m.Losses)
		fmt.Printf("Avg P&L:          %+.2f%%\n", m.AvgPnLPct)
		fmt.Printf("Total P&L:        %+.2f%%\n", m.TotalPnLPct)
		fmt.Printf("Avg win / loss:   %+.2f%% / %+.2f%%\n", m.AvgWinPct, m.AvgLossPct)
		fmt.Printf("Expectancy:       %+.2f%%\n", m.Expectancy)
		fmt.Printf("Best / Worst:     %+.2f%% / %+.2f%%\n", m.BestPnLPct, m.WorstPnLPct)
		fmt.Printf("Profit factor:    %.2f\n", m.ProfitFactor)
	}

	if len(m.ExitBreakdown) > 0 {
		fmt.Println("\nExits:")
		for _, reason := range []string{model.ExitEndOfDay, model.ExitStopLoss, model.ExitTrailingStop} {
			if n := m.ExitBreakdown[reason]; n > 0 {
				fmt.Printf("  %-14s %d\n", reason, n)
			}
		}
	}

	trades := tradedOnly(result.Trades)
	if len(trades) == 0 {
		return nil
	}

	fmt.Println()
	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Date", "Ticker", "Entry", "Exit", "P&L", "Reason"}),
	)
	for _, t := range trades {
		table.Append([]string{
			t.Date,
			t.Ticker,
			fmt.Sprintf("%.2f", t.EntryPrice),
			fmt.Sprintf("%.2f", t.ExitPrice),
			fmt.Sprintf("%+.2f%%", t.PnLPct),
			t.ExitReason,
		})
	}
	table.Render()
	return nil
}

func tradedOnly(trades []backtest.Trade) []backtest.Trade {
	out := make([]backtest.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Stage == backtest.StageTraded {
			out = append(out, t)
		}
	}
	return out
}

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
