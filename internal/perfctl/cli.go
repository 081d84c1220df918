// Package perfctl implements the operator CLI for medrank: it drives the HTTP
// API and generates synthetic event logs for local runs.
package perfctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/medrank/internal/adapters/eventlog"
	"github.com/okian/medrank/pkg/logger"
)

const (
	defaultURL     = "http://localhost:9080"
	defaultTimeout = 15 * time.Minute

	directoryPermission = 0o750
	filePermission      = 0o640
)

// ErrUsage is returned for unknown commands and bad arguments.
var ErrUsage = errors.New("usage")

// App holds the global flags shared by every command.
type App struct {
	URL     string
	Timeout time.Duration
	JSON    bool

	out io.Writer
	log logger.Logger
}

// Option configures Run.
type Option func(*App)

// WithLogger sets the logger for progress messages.
func WithLogger(l logger.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// Run parses args (without the program name) and executes one command.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, opts ...Option) error {
	app := &App{out: stdout, log: logger.Nop()}
	for _, opt := range opts {
		opt(app)
	}

	global := flag.NewFlagSet("perfctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.StringVar(&app.URL, "url", envOr("MEDRANK_URL", defaultURL), "base URL of the medrank service")
	global.DurationVar(&app.Timeout, "timeout", defaultTimeout, "HTTP request timeout")
	global.BoolVar(&app.JSON, "json", false, "print raw JSON responses")
	global.Usage = func() { ShowHelp(stderr) }
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	rest := global.Args()
	if len(rest) == 0 {
		ShowHelp(stderr)
		return fmt.Errorf("%w: missing command", ErrUsage)
	}
	cmd, cmdArgs := rest[0], rest[1:]

	switch cmd {
	case "refresh":
		return app.refresh(ctx, cmdArgs, stderr)
	case "update-global-avg":
		return app.updateGlobalAvg(ctx)
	case "show-hospital":
		return app.showHospital(ctx, cmdArgs)
	case "recommend":
		return app.recommend(ctx, cmdArgs, stderr)
	case "dashboard":
		return app.dashboard(ctx, cmdArgs, stderr)
	case "simulate":
		return app.simulate(ctx, cmdArgs, stderr)
	case "generate":
		return app.generate(ctx, cmdArgs, stderr)
	case "help":
		ShowHelp(stdout)
		return nil
	default:
		ShowHelp(stderr)
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (a *App) client() *Client { return NewClient(a.URL, a.Timeout) }

func (a *App) refresh(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("refresh", stderr)
	period := fs.String("period", "", "period to rebuild (default: all)")
	async := fs.Bool("async", false, "queue the refresh and return immediately")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	res, err := a.client().Refresh(ctx, *period, *async)
	if err != nil {
		return err
	}
	if a.JSON {
		return a.printJSON(res)
	}
	return printRefresh(a.out, res)
}

func (a *App) updateGlobalAvg(ctx context.Context) error {
	p, err := a.client().RecomputePrior(ctx)
	if err != nil {
		return err
	}
	if a.JSON {
		return a.printJSON(p)
	}
	return printPrior(a.out, p)
}

func (a *App) showHospital(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: show-hospital <id>", ErrUsage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("%w: hospital id must be a positive integer", ErrUsage)
	}

	card, err := a.client().Hospital(ctx, id)
	if err != nil {
		return err
	}
	if a.JSON {
		return a.printJSON(card)
	}
	return printCard(a.out, card)
}

func (a *App) recommend(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("recommend", stderr)
	var p RecommendParams
	fs.Int64Var(&p.TreatmentID, "treatment", 0, "treatment id")
	fs.StringVar(&p.Country, "country", "", "patient country")
	fs.StringVar(&p.Language, "language", "", "patient language")
	fs.IntVar(&p.Limit, "limit", 0, "maximum hospitals (default: server default)")
	fs.IntVar(&p.MinSampleSize, "min-sample", 0, "drop hospitals with fewer leads")
	minScore := fs.String("min-score", "", "drop hospitals scoring below this")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if *minScore != "" {
		v, err := strconv.ParseFloat(*minScore, 64)
		if err != nil {
			return fmt.Errorf("%w: min-score must be a number", ErrUsage)
		}
		p.MinScore = &v
	}

	rec, err := a.client().Recommend(ctx, p)
	if err != nil {
		return err
	}
	if a.JSON {
		return a.printJSON(rec)
	}
	return printRecommendation(a.out, rec)
}

func (a *App) dashboard(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("dashboard", stderr)
	period := fs.String("period", "", "period to rank (default: last_30d)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	d, err := a.client().Dashboard(ctx, *period)
	if err != nil {
		return err
	}
	if a.JSON {
		return a.printJSON(d)
	}
	return printDashboard(a.out, d)
}

func (a *App) simulate(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("simulate", stderr)
	rate := fs.String("global-rate", "", "global booking rate (default: stored prior)")
	m := fs.String("m", "", "prior strength (default: server setting)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	rateV, err := optionalFloat("global-rate", *rate)
	if err != nil {
		return err
	}
	mV, err := optionalFloat("m", *m)
	if err != nil {
		return err
	}

	sim, err := a.client().Simulate(ctx, rateV, mV)
	if err != nil {
		return err
	}
	if a.JSON {
		return a.printJSON(sim)
	}
	return printSimulation(a.out, sim)
}

func (a *App) generate(ctx context.Context, args []string, stderr io.Writer) error {
	fs := newFlagSet("generate", stderr)
	cfg := GenerateConfig{}
	out := fs.String("out", "data/hospital_responses.jsonl", "output JSON-lines file, - for stdout")
	fs.IntVar(&cfg.Events, "events", 5000, "number of events")
	fs.IntVar(&cfg.Hospitals, "hospitals", 25, "number of hospitals")
	fs.IntVar(&cfg.Treatments, "treatments", 8, "number of treatments")
	fs.IntVar(&cfg.Days, "days", 120, "spread sent_at over this many days")
	fs.Uint64Var(&cfg.Seed, "seed", 1, "random seed")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	events, err := Generate(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	if *out == "-" {
		return eventlog.WriteJSONL(a.out, events)
	}
	if err := os.MkdirAll(filepath.Dir(*out), directoryPermission); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.OpenFile(*out, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermission)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := eventlog.WriteJSONL(f, events); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	a.log.Info(ctx, "event log written", logger.String("path", *out), logger.Int("events", len(events)))
	_, err = fmt.Fprintf(a.out, "wrote %d events to %s\n", len(events), *out)
	return err
}

func (a *App) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func optionalFloat(name, s string) (*float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be a number", ErrUsage, name)
	}
	return &v, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// ShowHelp prints usage information.
func ShowHelp(w io.Writer) {
	_, _ = io.WriteString(w, `perfctl - medrank operator tool

Usage:
  perfctl [-url URL] [-timeout D] [-json] <command> [flags]

Commands:
  refresh [-period P] [-async]      rebuild performance stats
  update-global-avg                 recompute the global prior
  show-hospital <id>                print a hospital's performance card
  recommend [-treatment ID] [-country C] [-language L] [-limit N]
            [-min-score S] [-min-sample N]
                                    rank hospitals for a patient profile
  dashboard [-period P]             rank every hospital
  simulate [-global-rate R] [-m M]  show how shrinkage treats sample sizes
  generate [-out FILE] [-events N] [-hospitals N] [-treatments N] [-days N] [-seed S]
                                    write a synthetic event log

Periods: last_30d, last_90d, all_time
The service URL defaults to $MEDRANK_URL or http://localhost:9080.
`)
}
