// Package scheduler runs the indexer and settlement loops as cron entries
// grouped under names that can be started and stopped independently.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ErrUnknownGroup is returned for a group name that was never registered.
var ErrUnknownGroup = errors.New("unknown task group")

// Task groups registered by the run command.
const (
	GroupIndexer    = "indexer"
	GroupSettlement = "settlement"
)

// Task is one periodic job.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

type group struct {
	tasks  []Task
	cron   *cron.Cron
	cancel context.CancelFunc
}

// Supervisor owns the task groups and their cron schedulers.
type Supervisor struct {
	mu      sync.Mutex
	baseCtx context.Context
	logger  *zap.Logger
	groups  map[string]*group
}

func NewSupervisor(baseCtx context.Context, logger *zap.Logger) *Supervisor {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		baseCtx: baseCtx,
		logger:  logger,
		groups:  make(map[string]*group),
	}
}

// Register adds tasks to a group. Tasks added to a running group take effect on the next Start.
func (s *Supervisor) Register(name string, tasks ...Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	if !ok {
		g = &group{}
		s.groups[name] = g
	}
	g.tasks = append(g.tasks, tasks...)
}

// Start schedules every task of the group. Starting a running group is a no-op.
func (s *Supervisor) Start(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	if g.cron != nil {
		return nil
	}

	cl := cronLogger{logger: s.logger.With(zap.String("group", name))}
	c := cron.New(
		cron.WithSeconds(),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx, cancel := context.WithCancel(s.baseCtx)

	for _, t := range g.tasks {
		task := t
		spec := fmt.Sprintf("@every %s", task.Every)
		if _, err := c.AddFunc(spec, func() { s.runTask(ctx, name, task) }); err != nil {
			cancel()
			return fmt.Errorf("schedule %s/%s: %w", name, task.Name, err)
		}
	}

	c.Start()
	g.cron = c
	g.cancel = cancel
	s.logger.Info("task group started", zap.String("group", name), zap.Int("tasks", len(g.tasks)))
	return nil
}

// Stop cancels in-flight runs of the group and waits for them to return.
func (s *Supervisor) Stop(name string) error {
	s.mu.Lock()
	g, ok := s.groups[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownGroup, name)
	}
	c, cancel := g.cron, g.cancel
	g.cron, g.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("task group stopped", zap.String("group", name))
	return nil
}

// Running reports whether the group is scheduled.
func (s *Supervisor) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[name]
	return ok && g.cron != nil
}

// Status returns the running flag of every group.
func (s *Supervisor) Status() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.groups))
	for name, g := range s.groups {
		out[name] = g.cron != nil
	}
	return out
}

// StartAll starts every registered group.
func (s *Supervisor) StartAll() error {
	for _, name := range s.names() {
		if err := s.Start(name); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every group.
func (s *Supervisor) StopAll() {
	for _, name := range s.names() {
		_ = s.Stop(name)
	}
}

func (s *Supervisor) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.groups))
	for name := range s.groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Supervisor) runTask(ctx context.Context, groupName string, t Task) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	if err := t.Run(ctx); err != nil {
		s.logger.Warn("task failed",
			zap.String("group", groupName),
			zap.String("task", t.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("task done", zap.String("group", groupName), zap.String("task", t.Name), zap.Duration("elapsed", time.Since(start)))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
