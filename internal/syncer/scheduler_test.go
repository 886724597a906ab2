package syncer

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/mailferry/internal/config"
	"github.com/teemow/mailferry/internal/stats"
)

type fakeClientSource struct {
	err   error
	calls int
}

func (s *fakeClientSource) Client(ctx context.Context) (*http.Client, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &http.Client{}, nil
}

func testScheduler(t *testing.T, accounts []config.Account, source TokenClientSource, deliverer Deliverer, session *fakeSession) (*Scheduler, *stats.Store) {
	t.Helper()
	st, err := stats.Open(filepath.Join(t.TempDir(), "stats.json"), nil)
	require.NoError(t, err)
	worker := NewWorker(&fakeDialer{session: session}, st, nil, nil)
	factory := func(ctx context.Context, client *http.Client) (Deliverer, error) {
		return deliverer, nil
	}
	return NewScheduler(accounts, 10*time.Millisecond, source, factory, worker, nil, nil), st
}

func TestRunOnceSyncsAllAccounts(t *testing.T) {
	accounts := []config.Account{
		{Name: "a", Host: "pop.example.com", Label: "a"},
		{Name: "b", Host: "pop.example.org", Label: "b"},
	}
	session := newFakeSession("hello")
	deliverer := newFakeDeliverer()
	source := &fakeClientSource{}

	scheduler, st := testScheduler(t, accounts, source, deliverer, session)

	require.NoError(t, scheduler.RunOnce(context.Background()))
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, []string{"a", "b"}, st.Accounts())
}

func TestRunOnceSkipsCycleWithoutAuthorization(t *testing.T) {
	accounts := []config.Account{{Name: "a", Host: "pop.example.com", Label: "a"}}
	authErr := errors.New("authorization pending")
	source := &fakeClientSource{err: authErr}

	scheduler, st := testScheduler(t, accounts, source, newFakeDeliverer(), newFakeSession())

	err := scheduler.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, authErr)

	// No account was touched.
	assert.Empty(t, st.Accounts())
}

func TestRunOnceContinuesPastAccountFailure(t *testing.T) {
	accounts := []config.Account{
		{Name: "broken", Host: "pop.example.com", Label: "missing"},
		{Name: "fine", Host: "pop.example.org", Label: "fine"},
	}
	session := newFakeSession("hello")
	failing := &labelPickyDeliverer{inner: newFakeDeliverer(), failLabel: "missing"}
	source := &fakeClientSource{}

	scheduler, st := testScheduler(t, accounts, source, failing, session)

	require.NoError(t, scheduler.RunOnce(context.Background()))
	assert.Equal(t, stats.StatusFail, st.AccountStats("broken").LastSync.Status)
	assert.Equal(t, stats.StatusSuccess, st.AccountStats("fine").LastSync.Status)
}

type labelPickyDeliverer struct {
	inner     Deliverer
	failLabel string
}

func (d *labelPickyDeliverer) EnsureLabel(name string) (string, error) {
	if name == d.failLabel {
		return "", errors.New("label cannot be created")
	}
	return d.inner.EnsureLabel(name)
}

func (d *labelPickyDeliverer) Import(raw []byte, labelID string) (string, error) {
	return d.inner.Import(raw, labelID)
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	accounts := []config.Account{{Name: "a", Host: "pop.example.com", Label: "a"}}
	source := &fakeClientSource{}
	scheduler, _ := testScheduler(t, accounts, source, newFakeDeliverer(), newFakeSession())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx)
	}()

	// Let at least one cycle complete, then stop.
	require.Eventually(t, func() bool { return source.calls > 0 },
		5*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRunRetriesAfterFailedCycle(t *testing.T) {
	accounts := []config.Account{{Name: "a", Host: "pop.example.com", Label: "a"}}
	source := &fakeClientSource{err: errors.New("authorization pending")}
	scheduler, _ := testScheduler(t, accounts, source, newFakeDeliverer(), newFakeSession())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- scheduler.Run(ctx)
	}()

	// A failed cycle does not stop the loop; the next interval retries.
	require.Eventually(t, func() bool { return source.calls >= 2 },
		5*time.Second, time.Millisecond)
	cancel()
	<-done
}
