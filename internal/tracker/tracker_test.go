package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthpipe/internal/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewWithClock(5*time.Minute, clock.Now), clock
}

func testConfig() models.JobConfiguration {
	return models.JobConfiguration{
		DataType:            "orders",
		OutputFormat:        models.FormatJSON,
		RowCount:            10,
		TimeoutSeconds:      60,
		ResumeWindowSeconds: 30,
	}
}

func TestRegisterAndGet(t *testing.T) {
	tr, _ := newTestTracker()

	js, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, js.Status)
	assert.Equal(t, 0, js.Progress)
	require.Len(t, js.Stages, 3)
	assert.Equal(t, models.StagePreparation, js.Stages[0].Name)

	got, err := tr.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, testConfig(), got.Config, "config must round-trip unchanged")
}

func TestRegisterDuplicate(t *testing.T) {
	tr, _ := newTestTracker()

	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)
	_, err = tr.Register("job-1", testConfig())
	assert.ErrorIs(t, err, models.ErrDuplicateJob)
}

func TestGetUnknown(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Get("nonexistent")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestGetReturnsSnapshot(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)

	snap, err := tr.Get("job-1")
	require.NoError(t, err)
	snap.Stages[0].Status = models.StatusFailed
	snap.Progress = 99

	again, err := tr.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, again.Stages[0].Status)
	assert.Equal(t, 0, again.Progress)
}

func TestLifecycleToCompleted(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)

	js, err := tr.Apply("job-1", models.EventStart)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, js.Status)
	require.NotNil(t, js.StartedAt)

	require.NoError(t, tr.Progress("job-1", 50, nil))

	js, err = tr.Apply("job-1", models.EventSucceed)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, js.Status)
	assert.Equal(t, 100, js.Progress, "succeed forces progress to 100")
	require.NotNil(t, js.CompletedAt)
	for _, st := range js.Stages {
		assert.Equal(t, models.StatusCompleted, st.Status)
		assert.Equal(t, 100, st.Progress)
	}
}

func TestIllegalTransitions(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)

	// succeed before start
	_, err = tr.Apply("job-1", models.EventSucceed)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = tr.Apply("job-1", models.EventStart)
	require.NoError(t, err)
	_, err = tr.Apply("job-1", models.EventStart)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = tr.Apply("job-1", models.EventSucceed)
	require.NoError(t, err)

	// cancel after terminal
	_, err = tr.Apply("job-1", models.EventCancel)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// state unchanged by the rejected transition
	js, err := tr.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, js.Status)
}

func TestProgressMonotone(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)
	_, err = tr.Apply("job-1", models.EventStart)
	require.NoError(t, err)

	require.NoError(t, tr.Progress("job-1", 60, nil))
	// stale update from a retried call is a silent no-op
	require.NoError(t, tr.Progress("job-1", 40, nil))

	js, err := tr.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, 60, js.Progress)

	// values above 100 are clamped
	require.NoError(t, tr.Progress("job-1", 250, nil))
	js, _ = tr.Get("job-1")
	assert.Equal(t, 100, js.Progress)
}

func TestProgressWhileNotRunning(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)

	err = tr.Progress("job-1", 10, nil)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestCancelFromQueuedAndRunning(t *testing.T) {
	tr, _ := newTestTracker()

	_, err := tr.Register("queued-job", testConfig())
	require.NoError(t, err)
	js, err := tr.Apply("queued-job", models.EventCancel)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, js.Status)
	require.NotNil(t, js.CancelledAt)

	_, err = tr.Register("running-job", testConfig())
	require.NoError(t, err)
	_, err = tr.Apply("running-job", models.EventStart)
	require.NoError(t, err)
	js, err = tr.Apply("running-job", models.EventCancel)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, js.Status)
}

func TestResumeWithinWindow(t *testing.T) {
	tr, clock := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)
	_, err = tr.Apply("job-1", models.EventCancel)
	require.NoError(t, err)

	clock.Advance(10 * time.Second) // window is 30s

	js, err := tr.Apply("job-1", models.EventResume)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, js.Status)
	assert.Nil(t, js.CancelledAt)
}

func TestResumePastWindow(t *testing.T) {
	tr, clock := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)
	_, err = tr.Apply("job-1", models.EventCancel)
	require.NoError(t, err)

	clock.Advance(31 * time.Second)

	_, err = tr.Apply("job-1", models.EventResume)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	js, err := tr.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, js.Status, "failed resume must not change state")
}

func TestFailAttachesError(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)
	_, err = tr.Apply("job-1", models.EventStart)
	require.NoError(t, err)

	js, err := tr.Fail("job-1", models.JobError{Code: models.ErrCodeGeneration, Message: "boom"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, js.Status)
	require.NotNil(t, js.Error)
	assert.Equal(t, models.ErrCodeGeneration, js.Error.Code)

	// error is present iff failed: a completed job never carries one
	_, err = tr.Register("job-2", testConfig())
	require.NoError(t, err)
	_, err = tr.Apply("job-2", models.EventStart)
	require.NoError(t, err)
	ok, err := tr.Apply("job-2", models.EventSucceed)
	require.NoError(t, err)
	assert.Nil(t, ok.Error)
}

func TestExpireTimeouts(t *testing.T) {
	tr, clock := newTestTracker()
	cfg := testConfig() // 60s timeout
	_, err := tr.Register("slow-job", cfg)
	require.NoError(t, err)
	_, err = tr.Apply("slow-job", models.EventStart)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	assert.Empty(t, tr.ExpireTimeouts(clock.Now()))

	clock.Advance(31 * time.Second)
	expired := tr.ExpireTimeouts(clock.Now())
	require.Equal(t, []string{"slow-job"}, expired)

	js, err := tr.Get("slow-job")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, js.Status)
	require.NotNil(t, js.Error)
	assert.Equal(t, models.ErrCodeTimeout, js.Error.Code)
}

func TestFailureRateWindow(t *testing.T) {
	tr, clock := newTestTracker() // 5m window

	run := func(id string, fail bool) {
		_, err := tr.Register(id, testConfig())
		require.NoError(t, err)
		_, err = tr.Apply(id, models.EventStart)
		require.NoError(t, err)
		if fail {
			_, err = tr.Fail(id, models.JobError{Code: models.ErrCodeGeneration, Message: "x"})
		} else {
			_, err = tr.Apply(id, models.EventSucceed)
		}
		require.NoError(t, err)
	}

	run("a", true)
	run("b", false)
	assert.InDelta(t, 0.5, tr.FailureRate(), 0.001)

	// outcomes age out of the trailing window
	clock.Advance(6 * time.Minute)
	assert.Zero(t, tr.FailureRate())
}

func TestSetIgnoresStalePayloads(t *testing.T) {
	tr, _ := newTestTracker()
	_, err := tr.Register("job-1", testConfig())
	require.NoError(t, err)
	_, err = tr.Apply("job-1", models.EventStart)
	require.NoError(t, err)
	require.NoError(t, tr.Progress("job-1", 80, nil))

	// retried read delivering an older running payload
	tr.Set("job-1", models.JobStatus{Status: models.StatusRunning, Progress: 20})
	js, err := tr.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, 80, js.Progress)

	// terminal state cannot be rewound by a stale non-terminal payload
	_, err = tr.Apply("job-1", models.EventSucceed)
	require.NoError(t, err)
	tr.Set("job-1", models.JobStatus{Status: models.StatusRunning, Progress: 90})
	js, _ = tr.Get("job-1")
	assert.Equal(t, models.StatusCompleted, js.Status)
}

func TestCountByStatus(t *testing.T) {
	tr, _ := newTestTracker()
	for _, id := range []string{"a", "b", "c"} {
		_, err := tr.Register(id, testConfig())
		require.NoError(t, err)
	}
	_, err := tr.Apply("a", models.EventStart)
	require.NoError(t, err)
	_, err = tr.Apply("b", models.EventCancel)
	require.NoError(t, err)

	counts := tr.CountByStatus()
	assert.Equal(t, 1, counts[models.StatusRunning])
	assert.Equal(t, 1, counts[models.StatusCancelled])
	assert.Equal(t, 1, counts[models.StatusQueued])
}
