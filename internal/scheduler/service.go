// Package scheduler triggers the pipeline tick on a cron expression or fixed
// interval. Runs never overlap: a trigger that fires while a run is in
// progress is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	_ "time/tzdata" // timezones resolve in minimal containers

	"github.com/robfig/cron/v3"

	logx "stockwatch/pkg/logx"
)

// ErrBusy is returned by RunNow while another run is in progress.
var ErrBusy = errors.New("a run is already in progress")

type Config struct {
	Schedule    string
	Timezone    string // IANA name; empty means local
	Timeout     time.Duration
	HistorySize int
	RunOnStart  bool
}

// Run is one completed execution.
type Run struct {
	Trigger  string // "schedule" | "start" | "manual"
	Started  time.Time
	Duration time.Duration
	Err      string
}

type Snapshot struct {
	Schedule string
	Timezone string
	Running  bool
	Skipped  uint64
	Next     time.Time
	Prev     time.Time
	History  []Run // newest first
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSpec checks that raw parses as a schedule and, for cron forms,
// as a cron expression.
func ValidateSpec(raw string) error {
	spec, err := ParseSchedule(raw)
	if err != nil {
		return err
	}
	if spec.Kind == SpecCron {
		if _, err := cronParser.Parse(spec.Cron); err != nil {
			return fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
		}
	}
	return nil
}

type Service struct {
	log logx.Logger
	job func(ctx context.Context) error

	mu      sync.Mutex
	cfg     Config
	spec    ParsedSpec
	loc     *time.Location
	c       *cron.Cron
	entryID cron.EntryID
	baseCtx context.Context

	running atomic.Bool
	skipped atomic.Uint64
	runWG   sync.WaitGroup

	hmu     sync.Mutex
	history []Run
}

func New(cfg Config, job func(ctx context.Context) error, log logx.Logger) (*Service, error) {
	if job == nil {
		return nil, errors.New("scheduler job required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, job: job}
	spec, err := s.validate(cfg)
	if err != nil {
		return nil, err
	}
	s.cfg = withDefaults(cfg)
	s.spec = spec
	return s, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	return cfg
}

func (s *Service) validate(cfg Config) (ParsedSpec, error) {
	if err := ValidateSpec(cfg.Schedule); err != nil {
		return ParsedSpec{}, err
	}
	spec, _ := ParseSchedule(cfg.Schedule)
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid timezone %q: %w", tz, err)
		}
	}
	return spec, nil
}

// Apply swaps the configuration, re-registering the trigger when the
// schedule or timezone changed. An invalid config is rejected as a whole.
func (s *Service) Apply(cfg Config) error {
	spec, err := s.validate(cfg)
	if err != nil {
		return err
	}
	cfg = withDefaults(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	changed := spec.String() != s.spec.String() || strings.TrimSpace(cfg.Timezone) != strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	s.spec = spec
	if changed && s.c != nil {
		s.restartLocked()
	}
	return nil
}

// Start begins triggering. Runs use ctx as their parent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.c != nil {
		s.mu.Unlock()
		return
	}
	s.baseCtx = ctx
	s.startLocked()
	runOnStart := s.cfg.RunOnStart
	s.mu.Unlock()

	if runOnStart {
		s.runWG.Add(1)
		go func() {
			defer s.runWG.Done()
			_, _ = s.trigger(ctx, "start")
		}()
	}
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	if err := s.addEntryLocked(); err != nil {
		s.log.Error("schedule register failed", logx.String("spec", s.spec.String()), logx.Err(err))
	}
	s.c.Start()
	args := []logx.Field{logx.String("spec", s.spec.String()), logx.String("tz", s.loc.String())}
	if next := s.c.Entry(s.entryID).Next; !next.IsZero() {
		args = append(args, logx.Time("next", next))
	}
	s.log.Info("scheduler started", args...)
}

func (s *Service) addEntryLocked() error {
	ctx := s.baseCtx
	job := cron.FuncJob(func() {
		_, _ = s.trigger(ctx, "schedule")
	})
	if s.spec.Kind == SpecInterval {
		s.entryID = s.c.Schedule(cron.Every(s.spec.Every), job)
		return nil
	}
	id, err := s.c.AddJob(s.spec.Cron, job)
	if err != nil {
		return err
	}
	s.entryID = id
	return nil
}

// restartLocked does not wait for an in-flight run; the overlap guard
// covers it and the run itself needs s.mu to finish.
func (s *Service) restartLocked() {
	s.c.Stop()
	s.startLocked()
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Stop halts triggering and waits for an in-flight run, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		if c != nil {
			<-c.Stop().Done()
		}
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out; run still in progress")
	}
}

// RunNow executes the job immediately under the same overlap guard.
func (s *Service) RunNow(ctx context.Context) (Run, error) {
	s.runWG.Add(1)
	defer s.runWG.Done()
	return s.trigger(ctx, "manual")
}

func (s *Service) trigger(ctx context.Context, trigger string) (Run, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.log.Warn("run skipped; previous run still in progress", logx.String("trigger", trigger))
		return Run{}, ErrBusy
	}
	defer s.running.Store(false)

	s.mu.Lock()
	timeout := s.cfg.Timeout
	s.mu.Unlock()

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := s.safeRun(rctx)
	run := Run{Trigger: trigger, Started: start, Duration: time.Since(start)}
	if err != nil {
		run.Err = err.Error()
		s.log.Error("run failed", logx.String("trigger", trigger), logx.Duration("took", run.Duration), logx.Err(err))
	} else {
		s.log.Debug("run finished", logx.String("trigger", trigger), logx.Duration("took", run.Duration))
	}
	s.appendHistory(run)
	return run, err
}

func (s *Service) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.job(ctx)
}

func (s *Service) appendHistory(r Run) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, r)
	if over := len(s.history) - size; over > 0 {
		s.history = append([]Run(nil), s.history[over:]...)
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Schedule: s.spec.String(), Timezone: s.cfg.Timezone}
	if s.c != nil && s.entryID != 0 {
		e := s.c.Entry(s.entryID)
		snap.Next, snap.Prev = e.Next, e.Prev
	}
	if s.loc != nil && snap.Timezone == "" {
		snap.Timezone = s.loc.String()
	}
	s.mu.Unlock()

	snap.Running = s.running.Load()
	snap.Skipped = s.skipped.Load()

	s.hmu.Lock()
	snap.History = make([]Run, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		snap.History = append(snap.History, s.history[i])
	}
	s.hmu.Unlock()
	return snap
}
