package releases

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscandco/platform/internal/platform/httpx"
	"github.com/mscandco/platform/internal/rbac"
	"github.com/mscandco/platform/internal/shared"
)

type memoryRepo struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	releases map[uuid.UUID]Release
	history  []HistoryEntry
	audits   []shared.AuditLog

	barrier     *sync.WaitGroup
	barrierLeft int
	historyErr  error
	failWith    error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{releases: make(map[uuid.UUID]Release)}
}

// holdGets makes the next n Get calls wait until all n have read.
func (m *memoryRepo) holdGets(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barrier = &sync.WaitGroup{}
	m.barrier.Add(n)
	m.barrierLeft = n
}

func (m *memoryRepo) put(rel Release) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[rel.ID] = rel
}

func (m *memoryRepo) status(id uuid.UUID) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases[id].Status
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Release, error) {
	m.mu.Lock()
	rel, ok := m.releases[id]
	failWith := m.failWith
	var wait *sync.WaitGroup
	if m.barrierLeft > 0 {
		m.barrierLeft--
		wait = m.barrier
	}
	m.mu.Unlock()
	if wait != nil {
		wait.Done()
		wait.Wait()
	}
	if failWith != nil {
		return Release{}, failWith
	}
	if !ok {
		return Release{}, ErrNotFound
	}
	return rel, nil
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Release, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []Release
	for _, rel := range m.releases {
		if filter.OwnerID != nil && !rel.OwnedBy(*filter.OwnerID) {
			continue
		}
		if filter.Status != nil && rel.Status != *filter.Status {
			continue
		}
		matched = append(matched, rel)
	}
	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	end := filter.Offset + filter.Limit
	if end > total {
		end = total
	}
	return matched[filter.Offset:end], total, nil
}

func (m *memoryRepo) Insert(ctx context.Context, rel Release) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return m.failWith
	}
	m.releases[rel.ID] = rel
	return nil
}

func (m *memoryRepo) UpdateMetadata(ctx context.Context, rel Release, editable []Status) (Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.releases[rel.ID]
	if !ok {
		return Release{}, ErrNotFound
	}
	allowed := false
	for _, s := range editable {
		if current.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return Release{}, ErrLockedForEditing
	}
	rel.Status = current.Status
	m.releases[rel.ID] = rel
	return rel, nil
}

func (m *memoryRepo) History(ctx context.Context, releaseID uuid.UUID) ([]HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []HistoryEntry
	for _, e := range m.history {
		if e.ReleaseID == releaseID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryRepo) historyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

// WithTx serialises transactions and commits staged writes only on success.
func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	tx := &memoryTx{repo: m, staged: make(map[uuid.UUID]Release)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rel := range tx.staged {
		m.releases[id] = rel
	}
	m.history = append(m.history, tx.history...)
	m.audits = append(m.audits, tx.audits...)
	return nil
}

type memoryTx struct {
	repo    *memoryRepo
	staged  map[uuid.UUID]Release
	history []HistoryEntry
	audits  []shared.AuditLog
}

func (t *memoryTx) CompareAndSetStatus(ctx context.Context, id uuid.UUID, change StatusChange) (Release, error) {
	t.repo.mu.Lock()
	rel, ok := t.repo.releases[id]
	t.repo.mu.Unlock()
	if !ok {
		return Release{}, ErrNotFound
	}
	if rel.Status != change.From {
		return Release{}, ErrStaleState
	}
	rel.Status = change.To
	rel.UpdatedAt = change.At
	if change.SetSubmittedAt {
		at := change.At
		rel.SubmittedAt = &at
	}
	t.staged[id] = rel
	return rel, nil
}

func (t *memoryTx) InsertHistory(ctx context.Context, e HistoryEntry) error {
	if t.repo.historyErr != nil {
		return t.repo.historyErr
	}
	t.history = append(t.history, e)
	return nil
}

func (t *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	t.audits = append(t.audits, log)
	return nil
}

type rolePermissions struct {
	err error
}

func (r rolePermissions) EffectivePermissions(ctx context.Context, p rbac.Principal) (rbac.PermissionSet, error) {
	if r.err != nil {
		return nil, r.err
	}
	return rbac.NewPermissionSet(rbac.DefaultsFor(p.Role)...), nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []StatusChangedEvent
	err    error
}

func (n *recordingNotifier) ReleaseStatusChanged(ctx context.Context, event StatusChangedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type memoryIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

var fixedNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func principal(role rbac.Role) rbac.Principal {
	return rbac.Principal{ID: uuid.New(), Email: string(role) + "@example.com", Role: role}
}

func newTestService(t *testing.T, opts ...Option) (*Service, *memoryRepo, *recordingNotifier) {
	t.Helper()
	repo := newMemoryRepo()
	notifier := &recordingNotifier{}
	opts = append([]Option{WithNotifier(notifier), WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewService(repo, rolePermissions{}, opts...), repo, notifier
}

func seedRelease(repo *memoryRepo, owner rbac.Principal, status Status) Release {
	rel := Release{
		ID:        uuid.New(),
		Status:    status,
		ArtistID:  owner.ID,
		Title:     "Night Drive",
		Metadata:  Metadata{"tracks": 10},
		CreatedBy: owner.ID,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	repo.put(rel)
	return rel
}

func TestArtistSubmitsOwnDraft(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusDraft)

	updated, err := svc.ProgressStatus(context.Background(), rel.ID, StatusSubmitted, artist, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, updated.Status)
	require.NotNil(t, updated.SubmittedAt)
	assert.Equal(t, fixedNow, *updated.SubmittedAt)

	history, err := svc.History(context.Background(), artist, rel.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusDraft, history[0].From)
	assert.Equal(t, StatusSubmitted, history[0].To)
	assert.Equal(t, "submitted", history[0].Kind)
	assert.Equal(t, artist.ID, history[0].ActorID)

	require.Len(t, repo.audits, 1)
	assert.Equal(t, "releases.status.submitted", repo.audits[0].Action)

	require.Equal(t, 1, notifier.count())
	event := notifier.events[0]
	assert.Equal(t, rel.ID, event.ReleaseID)
	assert.Equal(t, StatusSubmitted, event.To)
	assert.Equal(t, StatusSubmitted.Message(), event.Message)
}

func TestProgressStatusRejectsUnlistedEdge(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	admin := principal(rbac.RoleSuperAdmin)
	rel := seedRelease(repo, principal(rbac.RoleArtist), StatusDraft)

	_, err := svc.ProgressStatus(context.Background(), rel.ID, StatusLive, admin, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.ProgressStatus(context.Background(), rel.ID, Status("archived"), admin, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	assert.Equal(t, StatusDraft, repo.status(rel.ID))
	assert.Zero(t, repo.historyCount())
	assert.Zero(t, notifier.count())
}

func TestInvalidTransitionReportedBeforeForbidden(t *testing.T) {
	svc, repo, _ := newTestService(t)
	outsider := principal(rbac.RoleFinancialAdmin)
	rel := seedRelease(repo, principal(rbac.RoleArtist), StatusDraft)

	_, err := svc.ProgressStatus(context.Background(), rel.ID, StatusCompleted, outsider, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDenyRequiresReason(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	partner := principal(rbac.RoleDistributionPartner)
	rel := seedRelease(repo, principal(rbac.RoleArtist), StatusInReview)

	_, err := svc.ProgressStatus(context.Background(), rel.ID, StatusRevision, partner, "   ")
	require.ErrorIs(t, err, ErrMissingReason)
	assert.Equal(t, StatusInReview, repo.status(rel.ID))
	assert.Zero(t, notifier.count())

	updated, err := svc.ProgressStatus(context.Background(), rel.ID, StatusRevision, partner, "  artwork too small ")
	require.NoError(t, err)
	assert.Equal(t, StatusRevision, updated.Status)
	history, err := repo.History(context.Background(), rel.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "artwork too small", history[0].Reason)
	assert.Equal(t, "artwork too small", notifier.events[0].Reason)
}

func TestPartnerPushBackRequiresReason(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	partner := principal(rbac.RoleDistributionPartner)
	rel := seedRelease(repo, principal(rbac.RoleArtist), StatusRevision)

	_, err := svc.ProgressStatus(context.Background(), rel.ID, StatusDraft, partner, "")
	require.ErrorIs(t, err, ErrMissingReason)
	assert.Equal(t, StatusRevision, repo.status(rel.ID))
	assert.Zero(t, repo.historyCount())
	assert.Zero(t, notifier.count())

	updated, err := svc.ProgressStatus(context.Background(), rel.ID, StatusDraft, partner, "artwork resolution too low")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, updated.Status)
	assert.Equal(t, StatusDraft, repo.status(rel.ID))

	history, err := repo.History(context.Background(), rel.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "pushed_back", history[0].Kind)
	assert.Equal(t, StatusRevision, history[0].From)
	assert.Equal(t, rbac.RoleDistributionPartner, history[0].ActorRole)
	assert.Equal(t, "artwork resolution too low", history[0].Reason)
	require.Equal(t, 1, notifier.count())
	assert.Equal(t, StatusDraft, notifier.events[0].To)
}

func TestArtistUpdateRequestRequiresReason(t *testing.T) {
	svc, repo, _ := newTestService(t)
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusLive)

	_, err := svc.ProgressStatus(context.Background(), rel.ID, StatusRevision, artist, "\t")
	require.ErrorIs(t, err, ErrMissingReason)
	assert.Equal(t, StatusLive, repo.status(rel.ID))

	updated, err := svc.ProgressStatus(context.Background(), rel.ID, StatusRevision, artist, "swap track 3 for the radio edit")
	require.NoError(t, err)
	assert.Equal(t, StatusRevision, updated.Status)
	history, err := repo.History(context.Background(), rel.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "update_requested", history[0].Kind)
}

func TestWritesAdvanceUpdatedAt(t *testing.T) {
	now := fixedNow
	svc, repo, _ := newTestService(t, WithClock(func() time.Time { return now }))
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusDraft)

	now = fixedNow.Add(time.Hour)
	updated, err := svc.ProgressStatus(context.Background(), rel.ID, StatusSubmitted, artist, "")
	require.NoError(t, err)
	assert.Equal(t, now, updated.UpdatedAt)
	assert.Equal(t, now, *updated.SubmittedAt)
	assert.Equal(t, fixedNow, updated.CreatedAt)
	stored, err := repo.Get(context.Background(), rel.ID)
	require.NoError(t, err)
	assert.Equal(t, now, stored.UpdatedAt)

	now = fixedNow.Add(2 * time.Hour)
	genre := "Synthwave"
	updated, err = svc.UpdateMetadata(context.Background(), artist, rel.ID, MetadataPatch{Genre: &genre})
	require.NoError(t, err)
	assert.Equal(t, now, updated.UpdatedAt)
	assert.Equal(t, fixedNow.Add(time.Hour), *updated.SubmittedAt)
}

func TestPartnerEdgesForbiddenForArtist(t *testing.T) {
	svc, repo, _ := newTestService(t)
	artist := principal(rbac.RoleArtist)

	cases := []struct {
		from, to Status
	}{
		{StatusSubmitted, StatusInReview},
		{StatusInReview, StatusCompleted},
		{StatusCompleted, StatusLive},
		{StatusRevision, StatusDraft},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			rel := seedRelease(repo, artist, tc.from)
			_, err := svc.ProgressStatus(context.Background(), rel.ID, tc.to, artist, "because")
			require.ErrorIs(t, err, httpx.ErrForbidden)
			var forbidden *rbac.ForbiddenError
			require.True(t, errors.As(err, &forbidden))
			edge, _ := FindEdge(tc.from, tc.to)
			assert.Equal(t, []string{edge.Permission}, forbidden.Required)
			assert.Equal(t, rbac.RoleArtist, forbidden.Role)
			assert.Equal(t, tc.from, repo.status(rel.ID))
		})
	}
}

func TestArtistCannotSubmitAnotherArtistsRelease(t *testing.T) {
	svc, repo, _ := newTestService(t)
	rel := seedRelease(repo, principal(rbac.RoleArtist), StatusDraft)

	_, err := svc.ProgressStatus(context.Background(), rel.ID, StatusSubmitted, principal(rbac.RoleArtist), "")
	require.ErrorIs(t, err, httpx.ErrForbidden)
	assert.Equal(t, StatusDraft, repo.status(rel.ID))
}

func TestLabelAdminActsOnManagedRelease(t *testing.T) {
	svc, repo, _ := newTestService(t)
	label := principal(rbac.RoleLabelAdmin)
	rel := seedRelease(repo, principal(rbac.RoleArtist), StatusDraft)
	rel.LabelAdminID = &label.ID
	repo.put(rel)

	updated, err := svc.ProgressStatus(context.Background(), rel.ID, StatusSubmitted, label, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, updated.Status)
}

func TestAdminOverrideTakesAnyListedEdge(t *testing.T) {
	for _, role := range []rbac.Role{rbac.RoleCompanyAdmin, rbac.RoleSuperAdmin} {
		t.Run(string(role), func(t *testing.T) {
			svc, repo, notifier := newTestService(t)
			admin := principal(role)
			rel := seedRelease(repo, principal(rbac.RoleArtist), StatusDraft)

			steps := []struct {
				to     Status
				reason string
			}{
				{StatusSubmitted, ""},
				{StatusInReview, ""},
				{StatusCompleted, ""},
				{StatusLive, ""},
				{StatusRevision, "label requested a new mix"},
				{StatusDraft, "start over"},
			}
			for _, step := range steps {
				_, err := svc.ProgressStatus(context.Background(), rel.ID, step.to, admin, step.reason)
				require.NoError(t, err, "to %s", step.to)
			}
			assert.Equal(t, StatusDraft, repo.status(rel.ID))
			assert.Equal(t, len(steps), repo.historyCount())
			assert.Equal(t, len(steps), notifier.count())
		})
	}
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	artist := principal(rbac.RoleArtist)
	partner := principal(rbac.RoleDistributionPartner)
	rel := seedRelease(repo, artist, StatusSubmitted)
	repo.holdGets(2)

	type outcome struct {
		to  Status
		err error
	}
	results := make(chan outcome, 2)
	var wg sync.WaitGroup
	run := func(to Status, actor rbac.Principal) {
		defer wg.Done()
		_, err := svc.ProgressStatus(context.Background(), rel.ID, to, actor, "")
		results <- outcome{to: to, err: err}
	}
	wg.Add(2)
	go run(StatusDraft, artist)
	go run(StatusInReview, partner)
	wg.Wait()
	close(results)

	var winner Status
	var stale int
	for res := range results {
		if res.err == nil {
			require.Empty(t, winner, "both transitions succeeded")
			winner = res.to
			continue
		}
		require.ErrorIs(t, res.err, ErrStaleState)
		stale++
	}
	require.NotEmpty(t, winner)
	assert.Equal(t, 1, stale)
	assert.Equal(t, winner, repo.status(rel.ID))
	assert.Equal(t, 1, repo.historyCount())
	assert.Equal(t, 1, notifier.count())
}

func TestNotifierFailureDoesNotRollBack(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	svc, repo, notifier := newTestService(t, WithMetrics(metrics))
	notifier.err = errors.New("queue unavailable")
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusDraft)

	updated, err := svc.ProgressStatus(context.Background(), rel.ID, StatusSubmitted, artist, "")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, updated.Status)
	assert.Equal(t, StatusSubmitted, repo.status(rel.ID))
	assert.Equal(t, 1, repo.historyCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.notifyFailures))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("draft", "submitted", "ok")))
}

func TestNotifierRunsAfterCallerCancels(t *testing.T) {
	svc, repo, _ := newTestService(t)
	var seenErr error
	svc.notifier = notifierFunc(func(ctx context.Context, event StatusChangedEvent) error {
		seenErr = ctx.Err()
		return nil
	})
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusDraft)

	ctx, cancel := context.WithCancel(context.Background())
	svc.repo = cancelAfterCommit{memoryRepo: repo, cancel: cancel}
	_, err := svc.ProgressStatus(ctx, rel.ID, StatusSubmitted, artist, "")
	require.NoError(t, err)
	assert.NoError(t, seenErr)
}

type notifierFunc func(ctx context.Context, event StatusChangedEvent) error

func (f notifierFunc) ReleaseStatusChanged(ctx context.Context, event StatusChangedEvent) error {
	return f(ctx, event)
}

type cancelAfterCommit struct {
	*memoryRepo
	cancel context.CancelFunc
}

func (c cancelAfterCommit) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := c.memoryRepo.WithTx(ctx, fn)
	c.cancel()
	return err
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	svc, repo, notifier := newTestService(t)
	repo.historyErr = errors.New("disk full")
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusDraft)

	_, err := svc.ProgressStatus(context.Background(), rel.ID, StatusSubmitted, artist, "")
	require.ErrorIs(t, err, httpx.ErrUpstream)
	assert.Equal(t, StatusDraft, repo.status(rel.ID))
	assert.Zero(t, repo.historyCount())
	assert.Zero(t, notifier.count())
}

func TestTransitionOutcomesAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	svc, repo, _ := newTestService(t, WithMetrics(metrics))
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusDraft)

	repo.historyErr = errors.New("disk full")
	_, err = svc.ProgressStatus(context.Background(), rel.ID, StatusSubmitted, artist, "")
	require.ErrorIs(t, err, httpx.ErrUpstream)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("draft", "submitted", "upstream")))

	repo.historyErr = nil
	_, err = svc.ProgressStatus(context.Background(), rel.ID, StatusSubmitted, artist, "")
	require.NoError(t, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("draft", "submitted", "ok")))

	_, err = svc.ProgressStatus(context.Background(), rel.ID, StatusLive, artist, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.transitions.WithLabelValues("submitted", "live", "invalid")))
}

func TestProgressStatusUnknownRelease(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.ProgressStatus(context.Background(), uuid.New(), StatusSubmitted, principal(rbac.RoleArtist), "")
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestWithdrawAllowsOptionalReason(t *testing.T) {
	svc, repo, _ := newTestService(t)
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusSubmitted)

	_, err := svc.ProgressStatus(context.Background(), rel.ID, StatusDraft, artist, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, repo.status(rel.ID))
}

func TestUpdateMetadataLockedOutsideEditableStatuses(t *testing.T) {
	svc, repo, _ := newTestService(t)
	artist := principal(rbac.RoleArtist)
	title := "New Title"

	for _, status := range []Status{StatusInReview, StatusCompleted, StatusLive, StatusRevision} {
		rel := seedRelease(repo, artist, status)
		_, err := svc.UpdateMetadata(context.Background(), artist, rel.ID, MetadataPatch{Title: &title})
		require.ErrorIs(t, err, ErrLockedForEditing, "status %s", status)
	}
}

func TestUpdateMetadataMergesKeys(t *testing.T) {
	svc, repo, _ := newTestService(t)
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusSubmitted)
	genre := " Synthwave "

	updated, err := svc.UpdateMetadata(context.Background(), artist, rel.ID, MetadataPatch{
		Genre:    &genre,
		Metadata: Metadata{"tracks": nil, "upc": "0123456789"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Synthwave", updated.Genre)
	assert.Equal(t, Metadata{"upc": "0123456789"}, updated.Metadata)
	assert.Equal(t, StatusSubmitted, updated.Status)

	blank := " "
	_, err = svc.UpdateMetadata(context.Background(), artist, rel.ID, MetadataPatch{Title: &blank})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestUpdateMetadataRequiresOwnership(t *testing.T) {
	svc, repo, _ := newTestService(t)
	rel := seedRelease(repo, principal(rbac.RoleArtist), StatusDraft)
	title := "Hijacked"

	_, err := svc.UpdateMetadata(context.Background(), principal(rbac.RoleArtist), rel.ID, MetadataPatch{Title: &title})
	require.ErrorIs(t, err, httpx.ErrForbidden)

	updated, err := svc.UpdateMetadata(context.Background(), principal(rbac.RoleDistributionPartner), rel.ID, MetadataPatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Hijacked", updated.Title)
}

func TestCreateDraft(t *testing.T) {
	svc, repo, _ := newTestService(t)
	artist := principal(rbac.RoleArtist)

	rel, err := svc.Create(context.Background(), artist, CreateInput{Title: "  Debut  "}, "")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, rel.Status)
	assert.Equal(t, "Debut", rel.Title)
	assert.Equal(t, artist.ID, rel.ArtistID)
	assert.Equal(t, artist.ID, rel.CreatedBy)
	assert.NotNil(t, rel.Metadata)
	assert.Equal(t, StatusDraft, repo.status(rel.ID))

	_, err = svc.Create(context.Background(), artist, CreateInput{Title: " "}, "")
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateForAnotherArtist(t *testing.T) {
	svc, _, _ := newTestService(t)
	other := uuid.New()

	_, err := svc.Create(context.Background(), principal(rbac.RoleArtist), CreateInput{Title: "x", ArtistID: &other}, "")
	require.ErrorIs(t, err, httpx.ErrValidation)

	label := principal(rbac.RoleLabelAdmin)
	rel, err := svc.Create(context.Background(), label, CreateInput{Title: "x", ArtistID: &other}, "")
	require.NoError(t, err)
	assert.Equal(t, other, rel.ArtistID)
	require.NotNil(t, rel.LabelAdminID)
	assert.Equal(t, label.ID, *rel.LabelAdminID)
	assert.True(t, rel.OwnedBy(label.ID))
}

func TestCreateForbiddenWithoutPermission(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), principal(rbac.RoleFinancialAdmin), CreateInput{Title: "x"}, "")
	require.ErrorIs(t, err, httpx.ErrForbidden)
}

func TestCreateIdempotencyKeyReplay(t *testing.T) {
	svc, _, _ := newTestService(t, WithIdempotency(&memoryIdempotency{}))
	artist := principal(rbac.RoleArtist)

	_, err := svc.Create(context.Background(), artist, CreateInput{Title: "once"}, "key-1")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), artist, CreateInput{Title: "once"}, "key-1")
	require.ErrorIs(t, err, httpx.ErrDuplicate)
	_, err = svc.Create(context.Background(), artist, CreateInput{Title: "twice"}, "key-2")
	require.NoError(t, err)
}

func TestCreateReleasesKeyWhenInsertFails(t *testing.T) {
	keys := &memoryIdempotency{}
	svc, repo, _ := newTestService(t, WithIdempotency(keys))
	repo.failWith = errors.New("connection reset")
	artist := principal(rbac.RoleArtist)

	_, err := svc.Create(context.Background(), artist, CreateInput{Title: "retry"}, "key-1")
	require.ErrorIs(t, err, httpx.ErrUpstream)

	repo.failWith = nil
	_, err = svc.Create(context.Background(), artist, CreateInput{Title: "retry"}, "key-1")
	require.NoError(t, err)
}

func TestGetScopes(t *testing.T) {
	svc, repo, _ := newTestService(t)
	artist := principal(rbac.RoleArtist)
	rel := seedRelease(repo, artist, StatusDraft)

	_, err := svc.Get(context.Background(), artist, rel.ID)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), principal(rbac.RoleMarketingAdmin), rel.ID)
	require.NoError(t, err)
	_, err = svc.Get(context.Background(), principal(rbac.RoleArtist), rel.ID)
	require.ErrorIs(t, err, httpx.ErrForbidden)
	_, err = svc.Get(context.Background(), artist, uuid.New())
	require.ErrorIs(t, err, httpx.ErrNotFound)
}

func TestListScopesToOwnReleases(t *testing.T) {
	svc, repo, _ := newTestService(t)
	artist := principal(rbac.RoleArtist)
	seedRelease(repo, artist, StatusDraft)
	seedRelease(repo, artist, StatusLive)
	seedRelease(repo, principal(rbac.RoleArtist), StatusDraft)

	items, page, err := svc.List(context.Background(), artist, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, defaultPageSize, page.Limit)

	items, _, err = svc.List(context.Background(), principal(rbac.RoleDistributionPartner), ListFilter{})
	require.NoError(t, err)
	assert.Len(t, items, 3)

	draft := StatusDraft
	items, _, err = svc.List(context.Background(), artist, ListFilter{Status: &draft})
	require.NoError(t, err)
	assert.Len(t, items, 1)

	bogus := Status("archived")
	_, _, err = svc.List(context.Background(), artist, ListFilter{Status: &bogus})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, _, err = svc.List(context.Background(), principal(rbac.RoleFinancialAdmin), ListFilter{})
	require.ErrorIs(t, err, httpx.ErrForbidden)

	_, page, err = svc.List(context.Background(), artist, ListFilter{Limit: 500, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, maxPageSize, page.Limit)
	assert.Equal(t, 1, page.Offset)
}

func TestPermissionSourceFailureIsUpstream(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, rolePermissions{err: errors.New("redis down")})
	_, _, err := svc.List(context.Background(), principal(rbac.RoleArtist), ListFilter{})
	require.ErrorIs(t, err, httpx.ErrUpstream)
}

func TestPermissionsFromContextTakePrecedence(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, rolePermissions{err: errors.New("must not be called")})
	artist := principal(rbac.RoleArtist)
	ctx := rbac.ContextWithPermissions(context.Background(), rbac.NewPermissionSet(rbac.PermReleaseCreateOwn))

	_, err := svc.Create(ctx, artist, CreateInput{Title: "ctx"}, "")
	require.NoError(t, err)
}
