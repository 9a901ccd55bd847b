package api

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/Pulse/internal/calendar"
	"github.com/soaringjerry/Pulse/internal/services"
)

func TestMemoryStoreOptimisticWrites(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	require.NoError(t, s.CreateSubmission(ctx, &services.Submission{ID: "s1", Status: services.StatusPending, Version: 1}))
	assert.Error(t, s.CreateSubmission(ctx, &services.Submission{ID: "s1"}))

	a, _ := s.GetSubmission(ctx, "s1")
	b, _ := s.GetSubmission(ctx, "s1")
	a.Notes = "first"
	require.NoError(t, s.UpdateSubmission(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.Notes = "second"
	err := s.UpdateSubmission(ctx, b)
	assert.True(t, services.IsConflict(err))
	cur, _ := s.GetSubmission(ctx, "s1")
	assert.Equal(t, "first", cur.Notes)

	missing, err := s.GetSchedule(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
	err = s.UpdateSchedule(ctx, &services.CadenceSchedule{ID: "nope"})
	se, ok := services.AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, services.ErrorNotFound, se.Code)
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "pulse.json")
	ctx := t.Context()

	s, err := NewMemoryStoreFromPath(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveTemplate(ctx, &services.Template{ID: "t", Version: 1, Questions: []services.QuestionDefinition{{ID: "q", Type: services.QuestionLikert5}}}))
	require.NoError(t, s.CreateSubmission(ctx, &services.Submission{ID: "s1", TemplateID: "t", Status: services.StatusPartial, AccessTokenHash: []byte("hash"), Version: 1}))
	require.NoError(t, s.CreateSchedule(ctx, &services.CadenceSchedule{ID: "sch", ClientID: "c", TemplateID: "t", Frequency: services.CustomDays(3), NextOccurrence: calendar.MustParse("2024-02-29"), Active: true, Version: 1}))
	require.NoError(t, s.UpsertPlan(ctx, services.ContractPlan{ClientID: "c", ContractType: services.ContractMonthly}))
	require.NoError(t, s.AddContact(ctx, services.ContactEvent{ClientID: "c", OccurredAt: calendar.MustParse("2024-02-01")}))
	require.NoError(t, s.AddAudit(ctx, AuditEntry{Time: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Actor: "u1", Action: "x"}))

	again, err := NewMemoryStoreFromPath(path)
	require.NoError(t, err)
	sub, err := again.GetSubmission(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, []byte("hash"), sub.AccessTokenHash)
	assert.Equal(t, services.StatusPartial, sub.Status)

	active, err := again.ListActiveSchedules(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "2024-02-29", active[0].NextOccurrence.String())
	assert.Equal(t, 3, active[0].Frequency.Days)

	tpl, err := again.GetTemplate(ctx, "t", 1)
	require.NoError(t, err)
	require.NotNil(t, tpl)
	plan, err := again.GetPlan(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, plan)
	contacts, err := again.ListContacts(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, contacts, 1)
	audit, err := again.ListAudit(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, audit, 1)
}

func TestMemoryStoreCopyTo(t *testing.T) {
	ctx := t.Context()
	src := NewMemoryStore()
	require.NoError(t, src.SaveTemplate(ctx, &services.Template{ID: "t", Version: 1}))
	require.NoError(t, src.SaveTemplate(ctx, &services.Template{ID: "t", Version: 2}))
	require.NoError(t, src.CreateSubmission(ctx, &services.Submission{ID: "s", TemplateID: "t", Status: services.StatusPending, Version: 3}))
	require.NoError(t, src.AddContact(ctx, services.ContactEvent{ClientID: "c"}))

	dst := NewMemoryStore()
	require.NoError(t, src.CopyTo(ctx, dst))
	v1, _ := dst.GetTemplate(ctx, "t", 1)
	require.NotNil(t, v1)
	sub, _ := dst.GetSubmission(ctx, "s")
	require.NotNil(t, sub)
	assert.Equal(t, int64(3), sub.Version)
	contacts, _ := dst.ListContacts(ctx, "")
	assert.Len(t, contacts, 1)

	assert.Error(t, src.CopyTo(ctx, dst), "ids already present")
}

func TestMemoryStoreRejectsDuplicateTemplateVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	require.NoError(t, s.SaveTemplate(ctx, &services.Template{ID: "t", Version: 1, Name: "first"}))
	err := s.SaveTemplate(ctx, &services.Template{ID: "t", Version: 1, Name: "second"})
	assert.True(t, services.IsConflict(err))

	got, err := s.GetTemplate(ctx, "t", 1)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
	require.NoError(t, s.SaveTemplate(ctx, &services.Template{ID: "t", Version: 2}))
}

func TestMemoryStoreKeepsStateWhenSnapshotWriteFails(t *testing.T) {
	s := NewMemoryStore()
	ctx := t.Context()
	require.NoError(t, s.SaveTemplate(ctx, &services.Template{ID: "t", Version: 1}))
	require.NoError(t, s.CreateSubmission(ctx, &services.Submission{ID: "s1", Notes: "kept", Version: 1}))
	require.NoError(t, s.CreateSchedule(ctx, &services.CadenceSchedule{ID: "sch1", SendTime: "08:00", Active: true, Version: 1}))

	// A regular file where the snapshot directory should be makes every
	// persist fail.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	s.snapshot = filepath.Join(blocker, "pulse.json")

	sub, _ := s.GetSubmission(ctx, "s1")
	sub.Notes = "lost"
	require.Error(t, s.UpdateSubmission(ctx, sub))
	assert.Equal(t, int64(1), sub.Version)
	cur, _ := s.GetSubmission(ctx, "s1")
	assert.Equal(t, "kept", cur.Notes)
	assert.Equal(t, int64(1), cur.Version)

	sch, _ := s.GetSchedule(ctx, "sch1")
	sch.SendTime = "09:00"
	require.Error(t, s.UpdateSchedule(ctx, sch))
	assert.Equal(t, int64(1), sch.Version)
	curSch, _ := s.GetSchedule(ctx, "sch1")
	assert.Equal(t, "08:00", curSch.SendTime)

	require.Error(t, s.CreateSubmission(ctx, &services.Submission{ID: "s2", Version: 1}))
	gone, _ := s.GetSubmission(ctx, "s2")
	assert.Nil(t, gone)
	require.Error(t, s.CreateSchedule(ctx, &services.CadenceSchedule{ID: "sch2", Version: 1}))
	goneSch, _ := s.GetSchedule(ctx, "sch2")
	assert.Nil(t, goneSch)

	require.Error(t, s.SaveTemplate(ctx, &services.Template{ID: "t", Version: 2}))
	latest, _ := s.GetTemplate(ctx, "t", 0)
	assert.Equal(t, 1, latest.Version)
	require.Error(t, s.SaveTemplate(ctx, &services.Template{ID: "new", Version: 1}))
	none, _ := s.GetTemplate(ctx, "new", 0)
	assert.Nil(t, none)
}
