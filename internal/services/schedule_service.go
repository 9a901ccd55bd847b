package services

import (
	"context"
	"strings"

	"github.com/soaringjerry/Pulse/internal/calendar"
)

// ScheduleStore persists cadence schedules. UpdateSchedule follows the same
// optimistic contract as SubmissionStore.UpdateSubmission.
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, s *CadenceSchedule) error
	GetSchedule(ctx context.Context, id string) (*CadenceSchedule, error)
	UpdateSchedule(ctx context.Context, s *CadenceSchedule) error
	ListActiveSchedules(ctx context.Context) ([]CadenceSchedule, error)
}

// ScheduleService manages cadence schedules.
type ScheduleService struct {
	store     ScheduleStore
	templates TemplateStore
	scheduler *CadenceScheduler
	clock     clock
	idGen     func() string
}

func NewScheduleService(store ScheduleStore, templates TemplateStore, scheduler *CadenceScheduler) *ScheduleService {
	return &ScheduleService{
		store:     store,
		templates: templates,
		scheduler: scheduler,
		clock:     newClock(),
		idGen:     func() string { return "sch" + shortID(12) },
	}
}

// Create validates and stores a new active schedule. A missing
// NextOccurrence starts the schedule today.
func (s *ScheduleService) Create(ctx context.Context, in CadenceSchedule) (*CadenceSchedule, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		in.ID = s.idGen()
	}
	if in.NextOccurrence.IsZero() {
		in.NextOccurrence = s.clock.today()
	}
	if in.Frequency.Kind == FrequencyMonthly && in.AnchorDay == 0 {
		in.AnchorDay = in.NextOccurrence.Day()
	}
	in.Active = true
	in.LastDispatchedDate = calendar.Date{}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if s.templates != nil {
		tpl, err := s.templates.GetTemplate(ctx, in.TemplateID, 0)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			return nil, NewNotFoundError("template not found")
		}
	}
	now := s.clock.now()
	in.Version = 1
	in.CreatedAt, in.UpdatedAt = now, now
	if err := s.store.CreateSchedule(ctx, &in); err != nil {
		return nil, err
	}
	return &in, nil
}

// Get loads a schedule.
func (s *ScheduleService) Get(ctx context.Context, id string) (*CadenceSchedule, error) {
	sch, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	if sch == nil {
		return nil, NewNotFoundError("schedule not found")
	}
	return sch, nil
}

// Deactivate switches a schedule off. Deactivating twice is harmless.
func (s *ScheduleService) Deactivate(ctx context.Context, id string) (*CadenceSchedule, error) {
	for attempt := 0; attempt < DefaultMaxAttempts; attempt++ {
		sch, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !sch.Active {
			return sch, nil
		}
		sch.Active = false
		sch.UpdatedAt = s.clock.now()
		err = s.store.UpdateSchedule(ctx, sch)
		if err == nil {
			return sch, nil
		}
		if !IsConflict(err) {
			return nil, err
		}
	}
	return nil, &SchedulingConflictError{Entity: "schedule", ID: id}
}

// Preview returns the occurrence that would follow ref without storing
// anything. A zero ref means today.
func (s *ScheduleService) Preview(ctx context.Context, id string, ref calendar.Date) (*CadenceSchedule, error) {
	sch, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next, err := s.scheduler.ComputeNext(*sch, s.clock.orToday(ref))
	if err != nil {
		return nil, err
	}
	return &next, nil
}
