// Package scheduler runs the periodic birthday sweep. A sweep projects every
// stored birthday onto the current cycle and fires an enter or exit
// transition exactly once per change of the is_birthday flag.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"birthdaybot/apperror"
	"birthdaybot/calendar"
	"birthdaybot/dal"
	"birthdaybot/dispatch"
	"birthdaybot/logger"
	"birthdaybot/models"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Parser accepts standard cron specs with an optional leading seconds field
// and descriptors such as "@every 5s" or "@daily".
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Store is the persistence the scheduler reads from.
type Store interface {
	FindBirthday(ctx context.Context, serverID, userID string) (*models.Birthday, error)
	FindBirthdaysWithDate(ctx context.Context, filter dal.Filter) ([]models.Birthday, error)
	FindServerConfig(ctx context.Context, serverID string) (*models.Server, error)
	FindServerConfigs(ctx context.Context, serverIDs []string) (map[string]models.Server, error)
}

// Transitioner applies the side effects of a transition.
type Transitioner interface {
	Enter(ctx context.Context, t dispatch.Target) (dispatch.Result, error)
	Exit(ctx context.Context, t dispatch.Target) (dispatch.Result, error)
}

// Scope restricts a sweep. The zero Scope sweeps everything; a ServerID
// alone sweeps one server; both fields sweep one record.
type Scope struct {
	ServerID string
	UserID   string
}

// All sweeps every record.
var All = Scope{}

// IsFull reports whether the scope covers every record.
func (s Scope) IsFull() bool {
	return s.ServerID == "" && s.UserID == ""
}

func (s Scope) String() string {
	switch {
	case s.IsFull():
		return "all"
	case s.UserID == "":
		return s.ServerID
	default:
		return s.ServerID + "/" + s.UserID
	}
}

// Report summarises one sweep.
type Report struct {
	Checked int
	Entered int
	Exited  int
	Failed  int
	// Skipped is set when a full sweep was dropped because another was
	// still running.
	Skipped bool
}

// Options tune a Scheduler. Zero values select the defaults.
type Options struct {
	// Concurrency caps records processed at once. Default 4.
	Concurrency int
	// RatePerSec caps transitions started per second. Default 5.
	RatePerSec int
	// DefaultTimeZone applies to records without a usable zone.
	DefaultTimeZone string
	// SweepTimeout bounds one scheduled sweep. Default 5 minutes.
	SweepTimeout time.Duration
	// Now is the clock. Default time.Now.
	Now func() time.Time
}

// Scheduler evaluates birthday records and drives transitions.
type Scheduler struct {
	store        Store
	dispatcher   Transitioner
	log          logrus.FieldLogger
	now          func() time.Time
	limiter      *rate.Limiter
	concurrency  int
	defaultZone  *time.Location
	sweepTimeout time.Duration

	locks       *keyedMutex
	fullRunning atomic.Bool
	cron        *cron.Cron
}

// New creates a Scheduler.
func New(store Store, dispatcher Transitioner, log logrus.FieldLogger, opts Options) (*Scheduler, error) {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.RatePerSec < 1 {
		opts.RatePerSec = 5
	}
	if opts.SweepTimeout <= 0 {
		opts.SweepTimeout = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	zone, err := calendar.LoadZone(opts.DefaultTimeZone)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		store:        store,
		dispatcher:   dispatcher,
		log:          log,
		now:          opts.Now,
		limiter:      rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.RatePerSec),
		concurrency:  opts.Concurrency,
		defaultZone:  zone,
		sweepTimeout: opts.SweepTimeout,
		locks:        newKeyedMutex(),
	}, nil
}

// Start runs one full sweep, then schedules full sweeps on spec.
func (s *Scheduler) Start(spec string) error {
	cl := logger.CronLogger{Log: s.log}
	s.cron = cron.New(
		cron.WithParser(Parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := s.cron.AddFunc(spec, s.runScheduled); err != nil {
		return fmt.Errorf("schedule birthday check %q: %w", spec, err)
	}

	s.runScheduled()
	s.cron.Start()
	s.log.WithField("schedule", spec).Info("Started birthday checker.")
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("Stopped birthday checker.")
}

func (s *Scheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.sweepTimeout)
	defer cancel()

	report, err := s.Sweep(ctx, All)
	if err != nil {
		s.log.WithError(err).Error("Birthday sweep failed.")
		return
	}
	if report.Entered > 0 || report.Exited > 0 || report.Failed > 0 {
		s.log.WithFields(logrus.Fields{
			"checked": report.Checked,
			"entered": report.Entered,
			"exited":  report.Exited,
			"failed":  report.Failed,
		}).Info("Birthday sweep finished.")
	}
}

// Sweep evaluates every record in scope. Records are processed concurrently
// but each record is handled by at most one sweep at a time, and its state
// is re-read once that sweep owns it. A failing record is logged and counted;
// it never aborts the sweep. The returned error reports only a failure to
// list the records.
func (s *Scheduler) Sweep(ctx context.Context, scope Scope) (Report, error) {
	if scope.UserID != "" && scope.ServerID == "" {
		return Report{}, apperror.Validation("a user scope needs a server")
	}
	if scope.IsFull() {
		if !s.fullRunning.CompareAndSwap(false, true) {
			s.log.Debug("Full birthday sweep still running, skipping.")
			return Report{Skipped: true}, nil
		}
		defer s.fullRunning.Store(false)
	}

	records, err := s.store.FindBirthdaysWithDate(ctx, dal.Filter{ServerID: scope.ServerID, UserID: scope.UserID})
	if err != nil {
		return Report{}, fmt.Errorf("sweep %s: %w", scope, err)
	}
	servers, err := s.store.FindServerConfigs(ctx, serverIDs(records))
	if err != nil {
		return Report{}, fmt.Errorf("sweep %s: %w", scope, err)
	}

	var entered, exited, failed atomic.Int32
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for _, rec := range records {
		server := servers[rec.ServerID]
		g.Go(func() error {
			switch s.process(ctx, rec.ServerID, rec.UserID, server) {
			case outcomeEntered:
				entered.Add(1)
			case outcomeExited:
				exited.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return Report{
		Checked: len(records),
		Entered: int(entered.Load()),
		Exited:  int(exited.Load()),
		Failed:  int(failed.Load()),
	}, nil
}

// ForceExit resets a record whatever its date says, revoking the role. It is
// used when a birthday is cleared or a server is reset.
func (s *Scheduler) ForceExit(ctx context.Context, serverID, userID string) error {
	unlock := s.locks.Lock(recordKey(serverID, userID))
	defer unlock()

	var server models.Server
	config, err := s.store.FindServerConfig(ctx, serverID)
	switch {
	case err == nil:
		server = *config
	case errors.Is(err, apperror.ErrNotFound):
	default:
		return err
	}

	_, err = s.dispatcher.Exit(ctx, target(serverID, userID, server))
	return err
}

// ExitRemoved revokes the birthday role of a record that was deleted along
// with its server. server is the configuration read before the deletion.
// Holding the record lock orders the exit after any transition that was
// already under way; sweeps that follow find no record.
func (s *Scheduler) ExitRemoved(ctx context.Context, server models.Server, userID string) error {
	unlock := s.locks.Lock(recordKey(server.ID, userID))
	defer unlock()

	_, err := s.dispatcher.Exit(ctx, target(server.ID, userID, server))
	return err
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeEntered
	outcomeExited
	outcomeFailed
)

func (s *Scheduler) process(ctx context.Context, serverID, userID string, server models.Server) (out outcome) {
	log := s.log.WithFields(logrus.Fields{"server_id": serverID, "user_id": userID})
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Birthday check panicked.")
			out = outcomeFailed
		}
	}()

	unlock := s.locks.Lock(recordKey(serverID, userID))
	defer unlock()

	rec, err := s.store.FindBirthday(ctx, serverID, userID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return outcomeNone
		}
		log.WithError(err).Error("Failed to load birthday.")
		return outcomeFailed
	}

	action := Evaluate(*rec, s.zone(log, rec.TimeZone), s.now())
	if action == ActionNone {
		return outcomeNone
	}

	if err := s.limiter.Wait(ctx); err != nil {
		log.WithError(err).Warn("Birthday transition postponed.")
		return outcomeFailed
	}

	t := target(serverID, userID, server)
	if action == ActionEnter {
		_, err := s.dispatcher.Enter(ctx, t)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			log.Debug("Birthday was deleted before it could start.")
			return outcomeNone
		case err != nil:
			log.WithError(err).Error("Failed to start birthday.")
			return outcomeFailed
		}
		return outcomeEntered
	}
	if _, err := s.dispatcher.Exit(ctx, t); err != nil {
		log.WithError(err).Error("Failed to end birthday.")
		return outcomeFailed
	}
	return outcomeExited
}

func (s *Scheduler) zone(log logrus.FieldLogger, name string) *time.Location {
	if name == "" {
		return s.defaultZone
	}
	loc, err := calendar.LoadZone(name)
	if err != nil {
		log.WithError(err).Warn("Stored time zone is invalid, using the default.")
		return s.defaultZone
	}
	return loc
}

// Action is the transition a record needs.
type Action int

const (
	ActionNone Action = iota
	ActionEnter
	ActionExit
)

func (a Action) String() string {
	switch a {
	case ActionEnter:
		return "enter"
	case ActionExit:
		return "exit"
	default:
		return "none"
	}
}

// Evaluate decides the transition for one record at now. A flagged record
// whose window is not running exits; an unflagged record inside its window
// enters; everything else is already in the right state.
func Evaluate(rec models.Birthday, loc *time.Location, now time.Time) Action {
	if rec.Birthday == nil {
		if rec.IsBirthday {
			return ActionExit
		}
		return ActionNone
	}

	active := calendar.Project(*rec.Birthday, loc, now).IsActive()
	switch {
	case rec.IsBirthday && !active:
		return ActionExit
	case !rec.IsBirthday && active:
		return ActionEnter
	default:
		return ActionNone
	}
}

func target(serverID, userID string, server models.Server) dispatch.Target {
	t := dispatch.Target{ServerID: serverID, UserID: userID}
	if server.ChannelID != nil {
		t.ChannelID = *server.ChannelID
	}
	if server.RoleID != nil {
		t.RoleID = *server.RoleID
	}
	return t
}

func recordKey(serverID, userID string) string {
	return serverID + "/" + userID
}

func serverIDs(records []models.Birthday) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, rec := range records {
		if _, ok := seen[rec.ServerID]; !ok {
			seen[rec.ServerID] = struct{}{}
			ids = append(ids, rec.ServerID)
		}
	}
	return ids
}
