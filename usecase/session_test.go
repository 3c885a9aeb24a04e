package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marianovz/wa-blast/config"
	domainAccount "github.com/marianovz/wa-blast/domains/account"
	domainActivity "github.com/marianovz/wa-blast/domains/activity"
	domainCampaign "github.com/marianovz/wa-blast/domains/campaign"
	"github.com/marianovz/wa-blast/domains/transport"
	pkgError "github.com/marianovz/wa-blast/pkg/apperror"
	"github.com/marianovz/wa-blast/pkg/connlimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sessionFixture struct {
	service  *serviceSession
	accounts *fakeAccountRepo
	activity *fakeActivityRepo
	dialer   *fakeDialer
	registry *fakeRegistry
	limiter  *connlimit.Limiter
}

func newSessionFixture(t *testing.T, window time.Duration, accounts ...domainAccount.Account) *sessionFixture {
	t.Helper()

	accountRepo := newFakeAccountRepo(accounts...)
	activityRepo := &fakeActivityRepo{}
	dialer := &fakeDialer{}
	registry := newFakeRegistry()
	limiter := connlimit.New(window)

	svc := NewSessionService(accountRepo, activityRepo, newFakeCampaignRepo(), dialer, registry, limiter, nil)
	return &sessionFixture{
		service:  svc.(*serviceSession),
		accounts: accountRepo,
		activity: activityRepo,
		dialer:   dialer,
		registry: registry,
		limiter:  limiter,
	}
}

// shrinkBackoff makes scheduled reconnects fire within milliseconds and
// restores the defaults when the test ends.
func shrinkBackoff(t *testing.T) {
	t.Helper()
	origBase, origMax := config.ReconnectBaseDelay, config.ReconnectMaxDelay
	config.ReconnectBaseDelay = time.Millisecond
	config.ReconnectMaxDelay = 100 * time.Millisecond
	t.Cleanup(func() {
		config.ReconnectBaseDelay = origBase
		config.ReconnectMaxDelay = origMax
	})
}

func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, condition(), "condition not met within %s", timeout)
}

func TestBackoffDelaySequence(t *testing.T) {
	expected := []time.Duration{
		5 * time.Second,
		15 * time.Second,
		45 * time.Second,
		135 * time.Second,
		300 * time.Second, // 405s capped
	}
	for attempt, want := range expected {
		assert.Equal(t, want, backoffDelay(attempt), "attempt %d", attempt)
	}
}

func TestConnectRegistersSingleHandle(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1", Name: "first"})

	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))
	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))

	assert.Equal(t, 2, fix.dialer.openCount())
	assert.Equal(t, 1, fix.registry.Count(), "repeated connect must not leak handles")
	waitFor(t, time.Second, fix.dialer.handles[0].isClosed)
	assert.Equal(t, domainAccount.StatusConnecting, fix.accounts.status("acc-1"))
}

func TestConnectRejectedByCooldown(t *testing.T) {
	fix := newSessionFixture(t, 30*time.Second, domainAccount.Account{ID: "acc-1"})

	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))

	err := fix.service.Connect(context.Background(), "acc-1")
	require.Error(t, err)

	var rateLimited pkgError.RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, "acc-1", rateLimited.AccountID)
	assert.Greater(t, rateLimited.RetryAfter, time.Duration(0))
	assert.Equal(t, 1, fix.dialer.openCount(), "rejected connect must not reach the transport")
}

func TestConnectUnknownAccount(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond)
	assert.Error(t, fix.service.Connect(context.Background(), "missing"))
	assert.Equal(t, 0, fix.dialer.openCount())
}

func TestOpenedEventPersistsIdentityAndResetsRetries(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})

	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))
	fix.service.state("acc-1").retryAttempt = 3

	fix.service.onTransportEvent("acc-1", transport.Event{
		Kind:     transport.EventOpened,
		Identity: transport.Identity{Phone: "5511999990000", PushName: "tester", DeviceID: "dev:1"},
	})

	acc, err := fix.accounts.GetByID(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, domainAccount.StatusConnected, acc.Status)
	assert.Equal(t, "5511999990000", acc.Phone)
	assert.Equal(t, "tester", acc.PushName)
	assert.Empty(t, acc.QRPayload)
	assert.NotNil(t, acc.LastConnectedAt)
	assert.Equal(t, 0, fix.service.state("acc-1").retryAttempt)
	assert.Contains(t, fix.activity.actions(), domainActivity.ActionConnected)
}

func TestOpenedEventDetectsPhoneChange(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1", Phone: "5511000000000"})

	fix.service.onTransportEvent("acc-1", transport.Event{
		Kind:     transport.EventOpened,
		Identity: transport.Identity{Phone: "5511999990000"},
	})

	assert.Contains(t, fix.activity.actions(), domainActivity.ActionPhoneChanged)
	assert.NotContains(t, fix.activity.actions(), domainActivity.ActionConnected)
}

func TestLoggedOutCloseNeverReconnects(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})
	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))
	opens := fix.dialer.openCount()

	fix.service.onTransportEvent("acc-1", transport.Event{
		Kind:      transport.EventClosed,
		CloseCode: transport.CloseLoggedOut,
	})

	assert.Equal(t, domainAccount.StatusDisconnected, fix.accounts.status("acc-1"))
	assert.Equal(t, 0, fix.registry.Count())
	assert.Contains(t, fix.dialer.purgeModes(), transport.PurgeAggressive)
	assert.Contains(t, fix.activity.actions(), domainActivity.ActionLoggedOut)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, opens, fix.dialer.openCount(), "logged out must never trigger a reconnect")
}

func TestPermanentCloseSetsErrorWithoutReconnect(t *testing.T) {
	for _, code := range []transport.CloseCode{
		transport.CloseBanned,
		transport.CloseForbidden,
		transport.CloseConflict,
		transport.CloseOutdated,
		transport.CloseRateLimited,
	} {
		t.Run(string(code), func(t *testing.T) {
			fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})
			require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))
			opens := fix.dialer.openCount()

			fix.service.onTransportEvent("acc-1", transport.Event{
				Kind:      transport.EventClosed,
				CloseCode: code,
			})

			assert.Equal(t, domainAccount.StatusError, fix.accounts.status("acc-1"))

			time.Sleep(50 * time.Millisecond)
			assert.Equal(t, opens, fix.dialer.openCount())
			assert.Nil(t, fix.service.state("acc-1").retryTimer)
		})
	}
}

func TestTransientCloseSchedulesBoundedReconnects(t *testing.T) {
	shrinkBackoff(t)
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})
	fix.dialer.openErr = errors.New("network down")

	// First failure comes from a live session dropping.
	fix.service.onTransportEvent("acc-1", transport.Event{
		Kind:      transport.EventClosed,
		CloseCode: transport.CloseNetwork,
	})

	// Each scheduled attempt fails to open and schedules the next one
	// until the budget of five is exhausted.
	waitFor(t, 5*time.Second, func() bool {
		return fix.accounts.status("acc-1") == domainAccount.StatusError
	})

	assert.Equal(t, config.ReconnectMaxAttempts, fix.dialer.openCount())
	assert.Contains(t, fix.activity.actions(), domainActivity.ActionReconnectExhausted)

	// Parked in error: nothing else fires.
	opens := fix.dialer.openCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, opens, fix.dialer.openCount())

	// Light purges precede automatic retries, never the aggressive kind.
	for _, mode := range fix.dialer.purgeModes() {
		assert.Equal(t, transport.PurgeLight, mode)
	}

	history := fix.accounts.statusHistory()
	reconnecting := 0
	for _, s := range history {
		if s == domainAccount.StatusReconnecting {
			reconnecting++
		}
	}
	assert.Equal(t, config.ReconnectMaxAttempts, reconnecting, "every retry must be visible as status=reconnecting")
}

func TestTransientCloseRecoversOnSuccessfulReconnect(t *testing.T) {
	shrinkBackoff(t)
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})

	fix.service.onTransportEvent("acc-1", transport.Event{
		Kind:      transport.EventClosed,
		CloseCode: transport.CloseNetwork,
	})

	waitFor(t, 2*time.Second, func() bool { return fix.dialer.openCount() == 1 })
	assert.Equal(t, 1, fix.registry.Count())

	fix.service.onTransportEvent("acc-1", transport.Event{Kind: transport.EventOpened})
	assert.Equal(t, domainAccount.StatusConnected, fix.accounts.status("acc-1"))
	assert.Equal(t, 0, fix.service.state("acc-1").retryAttempt)
}

func TestDisconnectClearsTracking(t *testing.T) {
	fix := newSessionFixture(t, 30*time.Second, domainAccount.Account{ID: "acc-1"})
	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))

	handle := fix.dialer.handles[0]
	fix.service.state("acc-1").retryAttempt = 2

	require.NoError(t, fix.service.Disconnect(context.Background(), "acc-1"))

	assert.Equal(t, domainAccount.StatusDisconnected, fix.accounts.status("acc-1"))
	assert.Equal(t, 0, fix.registry.Count())
	assert.True(t, handle.loggedOut)
	waitFor(t, time.Second, handle.isClosed)
	assert.Equal(t, 0, fix.service.state("acc-1").retryAttempt)

	// Cooldown was reset: an immediate manual reconnect is not penalized.
	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))
}

func TestDisconnectSurvivesConcurrentTransportEvent(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})

	// The transport dispatches a close event right as Disconnect tears the
	// handle down. Close refuses to return until that handler completes, so
	// closing under the state lock would freeze the account forever.
	handle := &loopBoundHandle{handlerDone: make(chan struct{})}
	handle.dispatch = func() {
		fix.service.onTransportEvent("acc-1", transport.Event{
			Kind:      transport.EventClosed,
			CloseCode: transport.CloseLoggedOut,
		})
	}
	fix.registry.Set("acc-1", handle)

	done := make(chan error, 1)
	go func() { done <- fix.service.Disconnect(context.Background(), "acc-1") }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect blocked against the transport event loop")
	}

	waitFor(t, time.Second, handle.isClosed)
	assert.Equal(t, domainAccount.StatusDisconnected, fix.accounts.status("acc-1"))
}

func TestStaleReconnectTimerNeverRedials(t *testing.T) {
	shrinkBackoff(t)
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})

	st := fix.service.state("acc-1")
	st.Lock()
	fix.service.scheduleReconnectLocked("acc-1", st)

	// The timer fires while the lock is still held, so the callback is past
	// its Stop window and parked on the lock when teardown runs.
	time.Sleep(50 * time.Millisecond)
	fix.service.teardownLocked(context.Background(), "acc-1", st)
	st.Unlock()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, fix.dialer.openCount(), "a stale timer must not redial a torn down account")
	assert.NotEqual(t, domainAccount.StatusConnecting, fix.accounts.status("acc-1"))
}

func TestForceReconnectRequiresFreshPairing(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})
	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))

	require.NoError(t, fix.service.ForceReconnect(context.Background(), "acc-1"))

	assert.Contains(t, fix.dialer.purgeModes(), transport.PurgeAggressive)
	assert.Equal(t, 2, fix.dialer.openCount())
	assert.Equal(t, 1, fix.registry.Count())
	assert.Contains(t, fix.activity.actions(), domainActivity.ActionForceReconnect)
	assert.Equal(t, domainAccount.StatusConnecting, fix.accounts.status("acc-1"))
}

func TestSendWithoutHandleFailsNotConnected(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})

	_, err := fix.service.Send(context.Background(), "acc-1", "5511999990000", domainAccount.SendContent{Body: "hi"})
	require.Error(t, err)

	var notConnected pkgError.NotConnectedError
	assert.ErrorAs(t, err, &notConnected)
}

func TestSendDelegatesToHandle(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})
	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))

	res, err := fix.service.Send(context.Background(), "acc-1", "5511999990000", domainAccount.SendContent{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "wire-5511999990000", res.MessageID)
	assert.Equal(t, []string{"5511999990000"}, fix.dialer.handles[0].sent)
}

func TestPairCodeRequiresLiveHandle(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})

	_, err := fix.service.PairCode(context.Background(), "acc-1", "5511999990000")
	require.Error(t, err)

	var notConnected pkgError.NotConnectedError
	assert.ErrorAs(t, err, &notConnected)

	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))

	code, err := fix.service.PairCode(context.Background(), "acc-1", "5511999990000")
	require.NoError(t, err)
	assert.Equal(t, "FAKE-CODE-5511999990000", code)
	assert.Contains(t, fix.activity.actions(), "pair_code_requested")
}

func TestDisconnectAllDrainsEverything(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond,
		domainAccount.Account{ID: "acc-1"},
		domainAccount.Account{ID: "acc-2"},
	)
	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))
	require.NoError(t, fix.service.Connect(context.Background(), "acc-2"))

	fix.service.DisconnectAll(context.Background())

	assert.Equal(t, 0, fix.registry.Count())
	for _, h := range fix.dialer.handles {
		assert.True(t, h.isClosed())
	}
	// Persisted statuses are untouched so startup reconnect still sees them.
	assert.Equal(t, domainAccount.StatusConnecting, fix.accounts.status("acc-1"))
	assert.Equal(t, domainAccount.StatusConnecting, fix.accounts.status("acc-2"))
}

func TestConnectAllOnStartupToleratesFailures(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond,
		domainAccount.Account{ID: "acc-1", Status: domainAccount.StatusConnected},
		domainAccount.Account{ID: "acc-2", Status: domainAccount.StatusDisconnected},
		domainAccount.Account{ID: "acc-3", Status: domainAccount.StatusReconnecting},
	)

	fix.service.ConnectAllOnStartup(context.Background())

	// Only the two non-disconnected accounts are attempted.
	assert.Equal(t, 2, fix.dialer.openCount())
	_, ok := fix.registry.Get("acc-2")
	assert.False(t, ok)
}

func TestGetStatusReportsBudgetAndConnection(t *testing.T) {
	fix := newSessionFixture(t, time.Nanosecond, domainAccount.Account{ID: "acc-1"})
	require.NoError(t, fix.service.Connect(context.Background(), "acc-1"))
	fix.service.onTransportEvent("acc-1", transport.Event{Kind: transport.EventOpened})

	state, err := fix.service.GetStatus(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.True(t, state.Connected)
	assert.Equal(t, domainAccount.StatusConnected, state.Status)
	assert.Equal(t, config.ReconnectMaxAttempts, state.RetryBudget)

	fix.service.state("acc-1").retryAttempt = 2
	state, err = fix.service.GetStatus(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, config.ReconnectMaxAttempts-2, state.RetryBudget)
}

func TestReceiptEventUpdatesCampaignMessages(t *testing.T) {
	accountRepo := newFakeAccountRepo(domainAccount.Account{ID: "acc-1"})
	campaignRepo := newFakeCampaignRepo()
	svc := NewSessionService(accountRepo, &fakeActivityRepo{}, campaignRepo, &fakeDialer{}, newFakeRegistry(), connlimit.New(time.Nanosecond), nil)

	require.NoError(t, campaignRepo.Create(context.Background(),
		domainCampaign.Campaign{ID: "cmp-1", AccountID: "acc-1", Status: domainCampaign.StatusRunning},
		[]domainCampaign.Message{
			{ID: "m1", CampaignID: "cmp-1", Phone: "5511999990000", Status: domainCampaign.MessageSent, WireID: "wire-1"},
		},
	))

	svc.(*serviceSession).onTransportEvent("acc-1", transport.Event{
		Kind:       transport.EventReceipt,
		Receipt:    transport.ReceiptRead,
		MessageIDs: []string{"wire-1"},
	})

	statuses := campaignRepo.messageStatuses("cmp-1")
	require.Len(t, statuses, 1)
	assert.Equal(t, domainCampaign.MessageRead, statuses[0])
}
