package sweeper

import (
	"context"
	"testing"
	"time"

	"talktime-service/internal/service/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePeriodRepo struct {
	due        []int64
	lapsed     []int64
	gotCutoffs []time.Time
}

func (f *fakePeriodRepo) ActivateDue(ctx context.Context, startOfDay time.Time) ([]int64, error) {
	f.gotCutoffs = append(f.gotCutoffs, startOfDay)
	return f.due, nil
}

func (f *fakePeriodRepo) ExpireLapsed(ctx context.Context, startOfDay time.Time) ([]int64, error) {
	return f.lapsed, nil
}

type notification struct {
	userID int64
	title  string
}

type fakeNotifier struct {
	sent []notification
}

func (f *fakeNotifier) NotifyUser(ctx context.Context, userID int64, title, body string, data map[string]string) {
	f.sent = append(f.sent, notification{userID: userID, title: title})
}

func newTestService(repo *fakePeriodRepo, notifier *fakeNotifier) *Service {
	svc := NewService(repo, nil, notifier, 0, zap.NewNop())
	svc.now = func() time.Time {
		return time.Date(2026, 3, 10, 0, 5, 0, 0, time.UTC)
	}
	return svc
}

func TestRunSweepsAtStartOfDay(t *testing.T) {
	repo := &fakePeriodRepo{due: []int64{1, 2}, lapsed: []int64{3}}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	result, err := svc.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), result.Activated)
	assert.Equal(t, int64(1), result.Expired)

	require.Len(t, repo.gotCutoffs, 1)
	assert.Equal(t, scheduler.StartOfDay(svc.now()), repo.gotCutoffs[0])
}

func TestRunWithoutRedisSkipsLock(t *testing.T) {
	// A nil redis client disables the distributed lock, used in single-node
	// deployments and tests.
	repo := &fakePeriodRepo{}
	svc := newTestService(repo, &fakeNotifier{})

	_, err := svc.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, repo.gotCutoffs, 1, "sweep ran")
}

func TestSweepNotifiesEachTransition(t *testing.T) {
	repo := &fakePeriodRepo{due: []int64{10}, lapsed: []int64{20, 21}}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	_, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.sent, 3)
	assert.Equal(t, notification{userID: 10, title: "Subscription started"}, notifier.sent[0])
	assert.Equal(t, notification{userID: 20, title: "Subscription expired"}, notifier.sent[1])
	assert.Equal(t, notification{userID: 21, title: "Subscription expired"}, notifier.sent[2])
}

func TestSweepWithNothingDue(t *testing.T) {
	repo := &fakePeriodRepo{}
	notifier := &fakeNotifier{}
	svc := newTestService(repo, notifier)

	result, err := svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, result.Activated)
	assert.Zero(t, result.Expired)
	assert.Empty(t, notifier.sent)
	assert.Equal(t, svc.now(), result.RanAt)
}
