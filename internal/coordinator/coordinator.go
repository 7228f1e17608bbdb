// Package coordinator owns one load: it discovers and compiles features,
// builds a plan per feature against a scope tree, wires the lifecycle bus to
// logging, metrics, storage and the terminal reporter, and hands the plans to
// a host runner.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chriserin/ftplan/internal/adapter"
	"github.com/chriserin/ftplan/internal/adapter/local"
	"github.com/chriserin/ftplan/internal/config"
	"github.com/chriserin/ftplan/internal/db"
	"github.com/chriserin/ftplan/internal/events"
	"github.com/chriserin/ftplan/internal/fixture"
	"github.com/chriserin/ftplan/internal/metrics"
	"github.com/chriserin/ftplan/internal/parser"
	"github.com/chriserin/ftplan/internal/plan"
	"github.com/chriserin/ftplan/internal/scanner"
	"github.com/chriserin/ftplan/internal/scope"
	"github.com/chriserin/ftplan/internal/ui"
)

type Options struct {
	// Tree holds the registered steps and hooks. Required.
	Tree *scope.Tree
	// Config defaults to config.Default().
	Config *config.Config
	// Root is the directory feature globs are relative to.
	Root     string
	NewWorld func() scope.World
	Fixtures *fixture.Container
	Logger   *zap.Logger
	// Store records run results when set.
	Store *db.Store
	// Output receives the terminal report when set.
	Output  io.Writer
	Scanner scanner.Scanner
}

type Coordinator struct {
	opts    Options
	cfg     *config.Config
	log     *zap.Logger
	bus     *events.Bus
	metrics *metrics.Recorder
	runID   string

	plans    []*plan.TestPlan
	started  bool
	finished bool
	unsub    []func()
}

func New(opts Options) (*Coordinator, error) {
	if opts.Tree == nil {
		return nil, errors.New("coordinator: scope tree is required")
	}
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	if opts.Root == "" {
		opts.Root = "."
	}
	if opts.Scanner == nil {
		opts.Scanner = scanner.NewScanner()
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Coordinator{
		opts:    opts,
		cfg:     opts.Config,
		log:     log,
		bus:     events.NewBus(),
		metrics: metrics.New(),
		runID:   uuid.NewString(),
	}
	c.log = c.log.With(zap.String("run", c.runID))
	c.unsub = append(c.unsub,
		c.bus.Subscribe(eventLogger(c.log)),
		c.bus.Subscribe(c.metrics),
	)
	if opts.Store != nil {
		c.unsub = append(c.unsub, c.bus.Subscribe(opts.Store.Recorder(c.runID)))
	}
	if opts.Output != nil {
		c.unsub = append(c.unsub, c.bus.Subscribe(ui.NewReporter(opts.Output)))
	}
	return c, nil
}

func (c *Coordinator) RunID() string              { return c.runID }
func (c *Coordinator) Bus() *events.Bus           { return c.bus }
func (c *Coordinator) Metrics() *metrics.Recorder { return c.metrics }
func (c *Coordinator) Plans() []*plan.TestPlan    { return append([]*plan.TestPlan(nil), c.plans...) }
func (c *Coordinator) Logger() *zap.Logger        { return c.log }

// Load compiles every feature the configured globs find. A parse or
// registration error aborts the load and no plans are kept.
func (c *Coordinator) Load() error {
	files, err := c.opts.Scanner.Scan(c.opts.Root, c.cfg.Features, c.cfg.Exclude)
	if err != nil {
		return fmt.Errorf("discovering features: %w", err)
	}
	if len(files) == 0 {
		c.log.Warn("no feature files found", zap.Strings("globs", c.cfg.Features))
	}

	var plans []*plan.TestPlan
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		p, err := c.build(c.uri(path), content)
		if err != nil {
			return err
		}
		plans = append(plans, p)
	}
	c.plans = append(c.plans, plans...)
	return nil
}

// LoadSource compiles one feature from memory.
func (c *Coordinator) LoadSource(uri string, content []byte) (*plan.TestPlan, error) {
	p, err := c.build(uri, content)
	if err != nil {
		return nil, err
	}
	c.plans = append(c.plans, p)
	return p, nil
}

func (c *Coordinator) build(uri string, content []byte) (*plan.TestPlan, error) {
	feature, err := parser.Parse(uri, content)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", uri, err)
	}
	c.log.Debug("feature compiled", zap.String("uri", uri), zap.String("feature", feature.Name))

	p, err := plan.BuildPlan(feature, c.opts.Tree, plan.Options{
		DefaultTimeout: c.cfg.DefaultTimeout,
		Filter:         c.cfg.Filter(),
		Retries:        c.cfg.Retries,
		NewWorld:       c.opts.NewWorld,
		Fixtures:       c.opts.Fixtures,
		Logger:         c.log,
		Events:         c.bus,
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// uri is path relative to Root with forward slashes.
func (c *Coordinator) uri(path string) string {
	if rel, err := filepath.Rel(c.opts.Root, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

// Drive registers the loaded plans on h and publishes run.started. Call
// Finish once the host has run them.
func (c *Coordinator) Drive(h adapter.Host) {
	if !c.started {
		c.started = true
		c.bus.Publish(events.Event{Kind: events.RunStarted, RunID: c.runID})
	}
	adapter.Drive(h, c.plans...)
}

// Finish publishes run.finished with counts over every executable that
// reached a terminal status. It returns the counts.
func (c *Coordinator) Finish() map[string]int {
	counts := c.Counts()
	if c.finished {
		return counts
	}
	c.finished = true
	c.bus.Publish(events.Event{Kind: events.RunFinished, RunID: c.runID, Counts: counts})
	return counts
}

// Counts tallies executables by terminal status.
func (c *Coordinator) Counts() map[string]int {
	counts := make(map[string]int)
	for _, p := range c.plans {
		for _, e := range p.ListExecutables() {
			if s := e.Status(); plan.IsTerminal(s) {
				counts[s.String()]++
			}
		}
	}
	return counts
}

// RunLocal drives the plans on an in-process runner and runs them.
func (c *Coordinator) RunLocal(ctx context.Context) *local.Report {
	r := local.New(c.log)
	c.Drive(r)
	rep := r.Run(ctx)
	c.Finish()
	return rep
}

// RunT drives the plans as subtests of t.
func (c *Coordinator) RunT(t *testing.T) *local.Report {
	t.Helper()
	r := local.New(c.log)
	c.Drive(r)
	rep := r.RunT(t)
	c.Finish()
	return rep
}

// Close detaches subscribers and releases singleton fixtures.
func (c *Coordinator) Close() error {
	for _, unsub := range c.unsub {
		unsub()
	}
	c.unsub = nil
	if c.opts.Fixtures != nil {
		if err := c.opts.Fixtures.Close(); err != nil {
			return fmt.Errorf("closing fixtures: %w", err)
		}
	}
	return nil
}

func eventLogger(log *zap.Logger) events.Listener {
	return events.ListenerFunc(func(e events.Event) {
		switch e.Kind {
		case events.RunStarted:
			log.Info("run started")
		case events.ExecutableFinished:
			fields := []zap.Field{
				zap.String("uri", e.URI),
				zap.String("scenario", e.Title),
				zap.String("status", e.Status),
				zap.Int("attempt", e.Attempt),
				zap.Duration("duration", e.Duration),
			}
			if e.Err != nil {
				fields = append(fields, zap.Error(e.Err))
			}
			log.Debug("executable finished", fields...)
		case events.RunFinished:
			log.Info("run finished", zap.Any("counts", e.Counts))
		}
	})
}
