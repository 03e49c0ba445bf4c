package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"weddingpay/internal/models"
	"weddingpay/pkg/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ----------------------------------------------------------------------------
// fakeProvider: scripted payment feed, one response per ListPayments call
// ----------------------------------------------------------------------------
type fakeProvider struct {
	mu     sync.Mutex
	calls  int
	listFn func(call int) ([]models.PaymentRecord, error)
}

func (f *fakeProvider) CreateSource(ctx context.Context, req payment.SourceRequest) (*payment.Source, error) {
	return nil, errors.New("not used by reconciliation")
}

func (f *fakeProvider) ListPayments(ctx context.Context, limit int) ([]models.PaymentRecord, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.listFn == nil {
		return nil, nil
	}
	return f.listFn(n)
}

func (f *fakeProvider) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// outcomeRecorder counts callback invocations.
type outcomeRecorder struct {
	successes atomic.Int32
	failures  atomic.Int32
	timeouts  atomic.Int32

	mu      sync.Mutex
	payload models.SuccessPayload
	reason  string
	err     error
}

func (r *outcomeRecorder) callbacks() Callbacks {
	return Callbacks{
		OnSuccess: func(p models.SuccessPayload) {
			r.successes.Add(1)
			r.mu.Lock()
			r.payload = p
			r.mu.Unlock()
		},
		OnFailure: func(reason string) {
			r.failures.Add(1)
			r.mu.Lock()
			r.reason = reason
			r.mu.Unlock()
		},
		OnTimeout: func(err error) {
			r.timeouts.Add(1)
			r.mu.Lock()
			r.err = err
			r.mu.Unlock()
		},
	}
}

func (r *outcomeRecorder) total() int32 {
	return r.successes.Load() + r.failures.Load() + r.timeouts.Load()
}

func newTestManager(p payment.Provider, poll PollConfig) *Manager {
	return NewManager(p, Config{Poll: poll, ToleranceMinor: 100}, zap.NewNop())
}

func fastPoll(maxAttempts int) PollConfig {
	return PollConfig{Interval: time.Millisecond, MaxAttempts: maxAttempts, FetchLimit: 20, MaxConsecutiveErrors: 3}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish in time")
	}
}

func paidRecord(intent models.PaymentIntent) models.PaymentRecord {
	return models.PaymentRecord{
		ID:          "pay_001",
		SourceRef:   intent.ID,
		AmountMinor: intent.AmountMinor,
		Currency:    intent.Currency,
		Status:      models.PaymentPaid,
		Description: intent.Description,
		CreatedAt:   time.Now(),
	}
}

// ----------------------------------------------------------------------------
// Scheduled ticks
// ----------------------------------------------------------------------------

func TestSession_TimesOutAfterExactlyMaxAttempts(t *testing.T) {
	fp := &fakeProvider{}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(3))

	s, err := mgr.StartReconciliation(testIntent(), rec.callbacks())
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, 3, fp.Calls())
	snap := s.Snapshot()
	assert.Equal(t, models.StateTimedOut, snap.State)
	assert.Equal(t, 3, snap.Attempt)
	assert.Equal(t, int32(1), rec.timeouts.Load())
	assert.Equal(t, int32(1), rec.total())
	assert.ErrorIs(t, rec.err, models.ErrNoMatchTimeout)
	assert.True(t, s.TerminalInvoked())
}

func TestSession_SucceedsOnTickWherePaidRecordAppears(t *testing.T) {
	intent := testIntent()
	fp := &fakeProvider{listFn: func(call int) ([]models.PaymentRecord, error) {
		if call < 2 {
			return []models.PaymentRecord{{ID: "pay_other", Description: "Florist deposit", AmountMinor: 5000, Status: models.PaymentPaid}}, nil
		}
		return []models.PaymentRecord{{
			ID:          "pay_150k",
			AmountMinor: 150000,
			Currency:    "PHP",
			Description: "GCash: " + intent.Description,
			Status:      models.PaymentPaid,
		}}, nil
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(120))

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, 2, fp.Calls())
	assert.Equal(t, int32(1), rec.successes.Load())
	assert.Equal(t, int32(1), rec.total())
	assert.Equal(t, models.SuccessPayload{
		SourceID:    intent.ID,
		PaymentID:   "pay_150k",
		AmountMinor: 150000,
		Currency:    "PHP",
		Method:      models.WalletGCash,
	}, rec.payload)
	assert.Equal(t, 1, s.Snapshot().Attempt)
}

func TestSession_FailedRecordSettlesAsFailure(t *testing.T) {
	intent := testIntent()
	fp := &fakeProvider{listFn: func(int) ([]models.PaymentRecord, error) {
		r := paidRecord(intent)
		r.Status = models.PaymentFailed
		r.FailureReason = "insufficient wallet balance"
		return []models.PaymentRecord{r}, nil
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(10))

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, 1, fp.Calls())
	assert.Equal(t, models.StateFailed, s.Snapshot().State)
	assert.Equal(t, int32(1), rec.failures.Load())
	assert.Equal(t, int32(1), rec.total())
	assert.Equal(t, "insufficient wallet balance", rec.reason)
}

func TestSession_PendingRecordKeepsPolling(t *testing.T) {
	intent := testIntent()
	fp := &fakeProvider{listFn: func(call int) ([]models.PaymentRecord, error) {
		r := paidRecord(intent)
		if call < 4 {
			r.Status = models.PaymentPending
		}
		return []models.PaymentRecord{r}, nil
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(10))

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, 4, fp.Calls())
	assert.Equal(t, models.StateSucceeded, s.Snapshot().State)
	assert.Equal(t, int32(1), rec.successes.Load())
}

func TestSession_ConsecutiveFetchErrorsAbort(t *testing.T) {
	fp := &fakeProvider{listFn: func(int) ([]models.PaymentRecord, error) {
		return nil, &models.ProviderError{Kind: models.ProviderErrorTransient, Op: "list payments", StatusCode: 503, Err: errors.New("unavailable")}
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(120))

	s, err := mgr.StartReconciliation(testIntent(), rec.callbacks())
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, 3, fp.Calls())
	assert.Equal(t, models.StateTimedOut, s.Snapshot().State)
	assert.Equal(t, int32(1), rec.timeouts.Load())
	assert.ErrorIs(t, rec.err, models.ErrProviderUnreachable)
	assert.NotErrorIs(t, rec.err, models.ErrNoMatchTimeout)
}

func TestSession_FetchErrorsConsumeAttemptBudget(t *testing.T) {
	fp := &fakeProvider{listFn: func(call int) ([]models.PaymentRecord, error) {
		if call%2 == 1 {
			return nil, errors.New("connection reset")
		}
		return nil, nil
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(5))

	s, err := mgr.StartReconciliation(testIntent(), rec.callbacks())
	require.NoError(t, err)
	waitDone(t, s)

	assert.Equal(t, 5, fp.Calls())
	assert.Equal(t, 5, s.Snapshot().Attempt)
	assert.ErrorIs(t, rec.err, models.ErrNoMatchTimeout)
}

// ----------------------------------------------------------------------------
// Manual check
// ----------------------------------------------------------------------------

func TestManualCheck_SettlesAndReturnsCachedResultAfterwards(t *testing.T) {
	intent := testIntent()
	fp := &fakeProvider{listFn: func(int) ([]models.PaymentRecord, error) {
		return []models.PaymentRecord{paidRecord(intent)}, nil
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, PollConfig{Interval: time.Hour, MaxAttempts: 3})

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)

	res, err := mgr.ManualCheck(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, models.StateSucceeded, res.State)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, "pay_001", res.Outcome.Success.PaymentID)
	waitDone(t, s)

	again, err := mgr.ManualCheck(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSucceeded, again.State)
	assert.Equal(t, 1, fp.Calls(), "closed session must not call the provider")
	assert.Equal(t, int32(1), rec.successes.Load())
	assert.Equal(t, 0, s.Snapshot().Attempt, "manual checks do not consume the budget")
}

func TestManualCheck_PendingMatchIsReportedWithoutTransition(t *testing.T) {
	intent := testIntent()
	fp := &fakeProvider{listFn: func(int) ([]models.PaymentRecord, error) {
		r := paidRecord(intent)
		r.Status = models.PaymentPending
		return []models.PaymentRecord{r}, nil
	}}
	mgr := newTestManager(fp, PollConfig{Interval: time.Hour, MaxAttempts: 3})

	_, err := mgr.StartReconciliation(intent, Callbacks{})
	require.NoError(t, err)

	res, err := mgr.ManualCheck(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, models.StatePending, res.State)
	require.NotNil(t, res.Record)
	assert.Equal(t, models.PaymentPending, res.Record.Status)
}

func TestManualCheck_AfterPollerSucceededReportsSameResult(t *testing.T) {
	intent := testIntent()
	var failNext atomic.Bool
	fp := &fakeProvider{listFn: func(int) ([]models.PaymentRecord, error) {
		r := paidRecord(intent)
		if failNext.Load() {
			r.Status = models.PaymentFailed
		}
		return []models.PaymentRecord{r}, nil
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(5))

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)
	waitDone(t, s)
	failNext.Store(true)

	res, err := mgr.ManualCheck(context.Background(), intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StateSucceeded, res.State)
	assert.Equal(t, int32(1), rec.successes.Load())
	assert.Equal(t, int32(0), rec.failures.Load())
}

func TestManualCheck_FetchErrorIsSurfacedWithoutTransition(t *testing.T) {
	fp := &fakeProvider{listFn: func(int) ([]models.PaymentRecord, error) {
		return nil, &models.ProviderError{Kind: models.ProviderErrorTransient, Op: "list payments", Err: errors.New("timeout")}
	}}
	mgr := newTestManager(fp, PollConfig{Interval: time.Hour, MaxAttempts: 3})
	intent := testIntent()
	_, err := mgr.StartReconciliation(intent, Callbacks{})
	require.NoError(t, err)

	res, err := mgr.ManualCheck(context.Background(), intent.ID)
	require.Error(t, err)
	assert.True(t, models.IsTransient(err))
	assert.Equal(t, models.StatePending, res.State)

	snap, err := mgr.Snapshot(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, snap.State)
}

func TestAtMostOnce_ConcurrentManualChecksAndTicks(t *testing.T) {
	intent := testIntent()
	fp := &fakeProvider{listFn: func(int) ([]models.PaymentRecord, error) {
		time.Sleep(100 * time.Microsecond)
		return []models.PaymentRecord{paidRecord(intent)}, nil
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(50))

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]CheckResult, 32)
	errs := make([]error, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = mgr.ManualCheck(context.Background(), intent.ID)
		}(i)
	}
	wg.Wait()
	waitDone(t, s)

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, models.StateSucceeded, results[i].State)
	}
	assert.Equal(t, int32(1), rec.successes.Load())
	assert.Equal(t, int32(1), rec.total())
}

// ----------------------------------------------------------------------------
// Cancellation
// ----------------------------------------------------------------------------

func TestCancel_IsIdempotent(t *testing.T) {
	fp := &fakeProvider{}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, PollConfig{Interval: time.Hour, MaxAttempts: 3})
	intent := testIntent()

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)

	require.NoError(t, mgr.Cancel(intent.ID))
	first := s.Snapshot()
	require.NoError(t, mgr.Cancel(intent.ID))
	waitDone(t, s)

	assert.Equal(t, first, s.Snapshot())
	assert.True(t, first.Cancelled)
	assert.Equal(t, models.StatePending, first.State)
	assert.Equal(t, int32(0), rec.total())
	assert.Equal(t, 0, fp.Calls())

	_, err = mgr.ManualCheck(context.Background(), intent.ID)
	assert.ErrorIs(t, err, models.ErrSessionCancelled)
}

func TestCancel_AfterTerminalIsNoOp(t *testing.T) {
	fp := &fakeProvider{}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(1))
	intent := testIntent()

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)
	waitDone(t, s)
	before := s.Snapshot()

	assert.False(t, s.Cancel())
	require.NoError(t, mgr.Cancel(intent.ID))

	assert.Equal(t, before, s.Snapshot())
	assert.False(t, before.Cancelled)
	assert.Equal(t, int32(1), rec.timeouts.Load())
}

func TestCancel_DropsInFlightResponse(t *testing.T) {
	intent := testIntent()
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fp := &fakeProvider{listFn: func(int) ([]models.PaymentRecord, error) {
		once.Do(func() { close(entered) })
		<-release
		return []models.PaymentRecord{paidRecord(intent)}, nil
	}}
	rec := &outcomeRecorder{}
	mgr := newTestManager(fp, fastPoll(10))

	s, err := mgr.StartReconciliation(intent, rec.callbacks())
	require.NoError(t, err)

	<-entered
	require.NoError(t, mgr.Cancel(intent.ID))
	close(release)
	waitDone(t, s)

	snap := s.Snapshot()
	assert.Equal(t, models.StatePending, snap.State)
	assert.True(t, snap.Cancelled)
	assert.False(t, s.TerminalInvoked())
	assert.Equal(t, int32(0), rec.total())
}

// ----------------------------------------------------------------------------
// Registry
// ----------------------------------------------------------------------------

func TestManager_RejectsRestartOfSettledIntent(t *testing.T) {
	mgr := newTestManager(&fakeProvider{}, fastPoll(1))
	intent := testIntent()

	s, err := mgr.StartReconciliation(intent, Callbacks{})
	require.NoError(t, err)
	waitDone(t, s)

	_, err = mgr.StartReconciliation(intent, Callbacks{})
	assert.ErrorIs(t, err, models.ErrSessionExists)
}

func TestManager_RejectsSecondLiveSession(t *testing.T) {
	mgr := newTestManager(&fakeProvider{}, PollConfig{Interval: time.Hour, MaxAttempts: 3})
	intent := testIntent()

	_, err := mgr.StartReconciliation(intent, Callbacks{})
	require.NoError(t, err)
	_, err = mgr.StartReconciliation(intent, Callbacks{})
	assert.ErrorIs(t, err, models.ErrSessionExists)
}

func TestManager_ResumesCancelledIntent(t *testing.T) {
	mgr := newTestManager(&fakeProvider{}, PollConfig{Interval: time.Hour, MaxAttempts: 3})
	intent := testIntent()

	first, err := mgr.StartReconciliation(intent, Callbacks{})
	require.NoError(t, err)
	require.NoError(t, mgr.Cancel(intent.ID))

	second, err := mgr.StartReconciliation(intent, Callbacks{})
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, models.StatePending, second.Snapshot().State)
	assert.False(t, second.Snapshot().Cancelled)
}

func TestManager_UnknownIntent(t *testing.T) {
	mgr := newTestManager(&fakeProvider{}, fastPoll(1))

	_, err := mgr.ManualCheck(context.Background(), "src_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, mgr.Cancel("src_missing"), models.ErrNotFound)
	_, err = mgr.Snapshot("src_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestManager_PrunesClosedSessionsAfterRetention(t *testing.T) {
	mgr := NewManager(&fakeProvider{}, Config{Poll: fastPoll(1), Retention: time.Minute}, zap.NewNop())
	now := time.Now()
	mgr.now = func() time.Time { return now }
	intent := testIntent()

	s, err := mgr.StartReconciliation(intent, Callbacks{})
	require.NoError(t, err)
	waitDone(t, s)

	now = now.Add(2 * time.Minute)
	other := testIntent()
	other.ID = "src_other"
	_, err = mgr.StartReconciliation(other, Callbacks{})
	require.NoError(t, err)

	_, err = mgr.Snapshot(intent.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	require.NoError(t, mgr.Cancel(other.ID))
}

func TestManager_ShutdownStopsAllSessions(t *testing.T) {
	mgr := newTestManager(&fakeProvider{}, PollConfig{Interval: time.Hour, MaxAttempts: 3})
	a := testIntent()
	b := testIntent()
	b.ID = "src_b"

	sa, err := mgr.StartReconciliation(a, Callbacks{})
	require.NoError(t, err)
	sb, err := mgr.StartReconciliation(b, Callbacks{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mgr.Shutdown(ctx))

	assert.True(t, sa.Snapshot().Cancelled)
	assert.True(t, sb.Snapshot().Cancelled)
}

func TestManager_RequiresIntentID(t *testing.T) {
	mgr := newTestManager(&fakeProvider{}, fastPoll(1))
	_, err := mgr.StartReconciliation(models.PaymentIntent{}, Callbacks{})
	assert.True(t, models.IsValidation(err))
}
