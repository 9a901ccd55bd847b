package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

// Notification is what the outbound transport receives for a due schedule.
type Notification struct {
	ScheduleID   string        `json:"schedule_id"`
	ClientID     string        `json:"client_id"`
	TemplateID   string        `json:"template_id"`
	SubmissionID string        `json:"submission_id"`
	AccessToken  string        `json:"access_token"`
	Date         calendar.Date `json:"date"`
	SendTime     string        `json:"send_time,omitempty"`
	Deadline     calendar.Date `json:"deadline"`
}

// Dispatcher performs the actual send (message, email, webhook).
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

func (f DispatcherFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

// SubmissionOpener creates the submission a dispatch points the client at.
type SubmissionOpener interface {
	Create(ctx context.Context, req CreateSubmissionRequest) (*Submission, string, error)
}

// TickFailure records a schedule the tick could not complete.
type TickFailure struct {
	ScheduleID string `json:"schedule_id"`
	Stage      string `json:"stage"`
	Error      string `json:"error"`
}

// TickReport summarises one run of the cadence tick.
type TickReport struct {
	Today             calendar.Date `json:"today"`
	DryRun            bool          `json:"dry_run"`
	Scanned           int           `json:"scanned"`
	Due               []string      `json:"due"`
	Sent              []string      `json:"sent"`
	NotDue            int           `json:"not_due"`
	AlreadyDispatched int           `json:"already_dispatched"`
	Inactive          int           `json:"inactive"`
	Conflicts         []string      `json:"conflicts,omitempty"`
	Failures          []TickFailure `json:"failures,omitempty"`
	Expired           int           `json:"expired"`
}

// DispatchService runs the periodic cadence tick. The tick may be triggered
// more than once for the same day; each schedule is claimed by persisting its
// LastDispatchedDate before anything is sent, so a schedule fires at most
// once per day.
type DispatchService struct {
	schedules  ScheduleStore
	scheduler  *CadenceScheduler
	opener     SubmissionOpener
	dispatcher Dispatcher
	expirer    interface {
		ExpireOverdue(ctx context.Context, today calendar.Date) (int, error)
	}
	clock  clock
	logger *slog.Logger
}

func NewDispatchService(schedules ScheduleStore, scheduler *CadenceScheduler, submissions *SubmissionService, dispatcher Dispatcher, logger *slog.Logger) *DispatchService {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &DispatchService{
		schedules:  schedules,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		clock:      newClock(),
		logger:     logger,
	}
	if submissions != nil {
		svc.opener = submissions
		svc.expirer = submissions
	}
	return svc
}

// RunTick dispatches every schedule due on today (zero means the current
// date). In dry-run mode nothing is written or sent; the report lists what
// would have fired.
func (d *DispatchService) RunTick(ctx context.Context, today calendar.Date, dryRun bool) (*TickReport, error) {
	today = d.clock.orToday(today)
	report := &TickReport{Today: today, DryRun: dryRun, Due: []string{}, Sent: []string{}}

	list, err := d.schedules.ListActiveSchedules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	for _, sch := range list {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		decision, updated, err := d.scheduler.Dispatch(sch, today)
		if err != nil {
			report.fail(sch.ID, "schedule", err)
			d.logger.Warn("schedule rejected", "schedule", sch.ID, "err", err)
			continue
		}
		switch decision {
		case DecisionNotDue:
			report.NotDue++
			continue
		case DecisionAlreadyDispatched:
			report.AlreadyDispatched++
			continue
		case DecisionInactive:
			report.Inactive++
			continue
		}
		report.Due = append(report.Due, sch.ID)
		if dryRun {
			continue
		}

		updated.UpdatedAt = d.clock.now()
		if err := d.schedules.UpdateSchedule(ctx, &updated); err != nil {
			if IsConflict(err) {
				report.Conflicts = append(report.Conflicts, sch.ID)
				d.logger.Info("schedule claimed by another tick", "schedule", sch.ID)
				continue
			}
			report.fail(sch.ID, "claim", err)
			d.logger.Error("claim schedule", "schedule", sch.ID, "err", err)
			continue
		}
		if err := d.send(ctx, updated, today); err != nil {
			report.fail(sch.ID, "send", err)
			d.logger.Error("dispatch failed", "schedule", sch.ID, "client", sch.ClientID, "err", err)
			continue
		}
		report.Sent = append(report.Sent, sch.ID)
		d.logger.Info("dispatched", "schedule", sch.ID, "client", sch.ClientID, "next", updated.NextOccurrence.String())
	}

	if !dryRun && d.expirer != nil {
		n, err := d.expirer.ExpireOverdue(ctx, today)
		if err != nil {
			report.fail("", "expire", err)
			d.logger.Error("expire overdue submissions", "err", err)
		}
		report.Expired = n
	}
	d.logger.Info("cadence tick finished",
		"today", today.String(), "scanned", report.Scanned, "due", len(report.Due),
		"sent", len(report.Sent), "failures", len(report.Failures), "dry_run", dryRun)
	return report, nil
}

// send opens the submission for a claimed schedule and hands it to the
// dispatcher. The submission deadline is the day before the next occurrence.
func (d *DispatchService) send(ctx context.Context, sch CadenceSchedule, today calendar.Date) error {
	n := Notification{
		ScheduleID: sch.ID,
		ClientID:   sch.ClientID,
		TemplateID: sch.TemplateID,
		Date:       today,
		SendTime:   sch.SendTime,
		Deadline:   sch.NextOccurrence.AddDays(-1),
	}
	if d.opener != nil {
		sub, token, err := d.opener.Create(ctx, CreateSubmissionRequest{
			TemplateID: sch.TemplateID,
			ClientID:   sch.ClientID,
			ScheduleID: sch.ID,
			Deadline:   n.Deadline,
		})
		if err != nil {
			return fmt.Errorf("open submission: %w", err)
		}
		n.SubmissionID, n.AccessToken = sub.ID, token
	}
	if d.dispatcher == nil {
		return nil
	}
	return d.dispatcher.Send(ctx, n)
}

func (r *TickReport) fail(id, stage string, err error) {
	r.Failures = append(r.Failures, TickFailure{ScheduleID: id, Stage: stage, Error: err.Error()})
}
