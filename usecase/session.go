package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	fiberUtils "github.com/gofiber/fiber/v2/utils"
	"github.com/marianovz/wa-blast/config"
	domainAccount "github.com/marianovz/wa-blast/domains/account"
	domainActivity "github.com/marianovz/wa-blast/domains/activity"
	domainCampaign "github.com/marianovz/wa-blast/domains/campaign"
	"github.com/marianovz/wa-blast/domains/transport"
	pkgError "github.com/marianovz/wa-blast/pkg/apperror"
	"github.com/marianovz/wa-blast/pkg/connlimit"
	"github.com/marianovz/wa-blast/ui/websocket"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
)

// ActivityMirror republishes audit entries to an external broker. A nil
// implementation is valid and publishes nothing.
type ActivityMirror interface {
	PublishActivity(ctx context.Context, entry domainActivity.Entry) error
}

// sessionState carries the volatile per-account tracking that is never
// persisted: the reconnect attempt counter and the pending retry timer.
// Its mutex is the per-account serialization point between API calls,
// transport events and the reconnect timer.
type sessionState struct {
	sync.Mutex
	retryAttempt int
	retryTimer   *time.Timer
}

type serviceSession struct {
	accountRepo  domainAccount.IAccountRepository
	activityRepo domainActivity.IActivityRepository
	campaignRepo domainCampaign.ICampaignRepository
	dialer       transport.Dialer
	registry     transport.HandleRegistry
	limiter      *connlimit.Limiter
	mirror       ActivityMirror

	statesMu sync.Mutex
	states   map[string]*sessionState
}

func NewSessionService(
	accountRepo domainAccount.IAccountRepository,
	activityRepo domainActivity.IActivityRepository,
	campaignRepo domainCampaign.ICampaignRepository,
	dialer transport.Dialer,
	registry transport.HandleRegistry,
	limiter *connlimit.Limiter,
	mirror ActivityMirror,
) domainAccount.ISessionUsecase {
	return &serviceSession{
		accountRepo:  accountRepo,
		activityRepo: activityRepo,
		campaignRepo: campaignRepo,
		dialer:       dialer,
		registry:     registry,
		limiter:      limiter,
		mirror:       mirror,
		states:       make(map[string]*sessionState),
	}
}

func (service *serviceSession) state(accountID string) *sessionState {
	service.statesMu.Lock()
	defer service.statesMu.Unlock()

	st, ok := service.states[accountID]
	if !ok {
		st = &sessionState{}
		service.states[accountID] = st
	}
	return st
}

// Connect opens a transport handle for the account. It returns once the
// handle is registered; pairing and connection establishment continue
// asynchronously through transport events.
func (service *serviceSession) Connect(ctx context.Context, accountID string) error {
	acc, err := service.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	if ok, wait := service.limiter.TryReserve(acc.ID); !ok {
		logrus.WithFields(logrus.Fields{
			"account_id":  acc.ID,
			"retry_after": wait,
		}).Warn("[SESSION] Connect rejected by cooldown")
		return pkgError.RateLimitedError{AccountID: acc.ID, RetryAfter: wait}
	}

	st := service.state(acc.ID)
	st.Lock()
	defer st.Unlock()

	return service.connectLocked(ctx, acc.ID, st)
}

// connectLocked does the actual open. Caller holds the account state lock.
func (service *serviceSession) connectLocked(ctx context.Context, accountID string, st *sessionState) error {
	// A stale handle from a previous attempt must never survive a new one.
	// Close on a separate goroutine: Close waits for the handle's event
	// loop to settle, and that loop may itself be blocked on this lock.
	if old := service.registry.Remove(accountID); old != nil {
		go old.Close()
	}

	now := time.Now()
	empty := ""
	statusConnecting := domainAccount.StatusConnecting
	if err := service.accountRepo.Update(ctx, accountID, domainAccount.Fields{
		Status:               &statusConnecting,
		QRPayload:            &empty,
		LastConnectAttemptAt: &now,
	}); err != nil {
		return err
	}

	logrus.WithField("account_id", accountID).Info("[SESSION] Connecting")

	handle, err := service.dialer.Open(ctx, accountID, func(evt transport.Event) {
		service.onTransportEvent(accountID, evt)
	})
	if err != nil {
		logrus.WithError(err).WithField("account_id", accountID).Error("[SESSION] Transport open failed")
		service.scheduleReconnectLocked(accountID, st)
		return err
	}

	service.registry.Set(accountID, handle)
	return nil
}

// onTransportEvent is the reactive core: every state transition that is not
// caused by an explicit API call originates here.
func (service *serviceSession) onTransportEvent(accountID string, evt transport.Event) {
	st := service.state(accountID)
	st.Lock()
	defer st.Unlock()

	ctx := context.Background()

	switch evt.Kind {
	case transport.EventQRIssued:
		service.handleQRIssued(ctx, accountID, evt.QRPayload)

	case transport.EventOpened:
		service.handleOpened(ctx, accountID, st, evt.Identity)

	case transport.EventClosed:
		service.handleClosed(ctx, accountID, st, evt.CloseCode, evt.CloseMessage)

	case transport.EventReceipt:
		service.handleReceipt(ctx, evt)
	}
}

func (service *serviceSession) handleQRIssued(ctx context.Context, accountID, payload string) {
	if err := service.accountRepo.Update(ctx, accountID, domainAccount.Fields{QRPayload: &payload}); err != nil {
		logrus.WithError(err).WithField("account_id", accountID).Error("[SESSION] Failed to persist QR payload")
	}

	qrPath := fmt.Sprintf("%s/scan-qr-%s-%s.png", config.PathQrCode, accountID, fiberUtils.UUIDv4())
	if err := qrcode.WriteFile(payload, qrcode.Medium, 512, qrPath); err != nil {
		logrus.Error("Error when write qr code to file: ", err)
	}

	websocket.Send(websocket.BroadcastMessage{
		Code:      "QR_ISSUED",
		Message:   "Scan the QR code to pair this account",
		AccountID: accountID,
		Result:    map[string]string{"qr_payload": payload, "qr_image": qrPath},
	})
}

func (service *serviceSession) handleOpened(ctx context.Context, accountID string, st *sessionState, identity transport.Identity) {
	acc, err := service.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		logrus.WithError(err).WithField("account_id", accountID).Error("[SESSION] Opened event for unknown account")
		return
	}

	action := domainActivity.ActionConnected
	description := "session established"
	if acc.Phone != "" && identity.Phone != "" && acc.Phone != identity.Phone {
		action = domainActivity.ActionPhoneChanged
		description = fmt.Sprintf("phone changed from %s to %s", acc.Phone, identity.Phone)
	}

	now := time.Now()
	empty := ""
	statusConnected := domainAccount.StatusConnected
	fields := domainAccount.Fields{
		Status:          &statusConnected,
		QRPayload:       &empty,
		LastConnectedAt: &now,
	}
	if identity.Phone != "" {
		fields.Phone = &identity.Phone
	}
	if identity.PushName != "" {
		fields.PushName = &identity.PushName
	}
	if identity.DeviceID != "" {
		fields.DeviceID = &identity.DeviceID
	}
	if err := service.accountRepo.Update(ctx, accountID, fields); err != nil {
		logrus.WithError(err).WithField("account_id", accountID).Error("[SESSION] Failed to persist connected state")
	}

	st.retryAttempt = 0
	service.stopRetryTimerLocked(st)

	service.logActivity(accountID, action, description)
	logrus.WithFields(logrus.Fields{
		"account_id": accountID,
		"phone":      identity.Phone,
	}).Info("[SESSION] Connected")

	websocket.Send(websocket.BroadcastMessage{
		Code:      "ACCOUNT_CONNECTED",
		Message:   "Account connected",
		AccountID: accountID,
	})
}

func (service *serviceSession) handleClosed(ctx context.Context, accountID string, st *sessionState, code transport.CloseCode, message string) {
	// Close on a separate goroutine: this handler runs on the transport's
	// event loop and Close waits for that loop to settle.
	if h := service.registry.Remove(accountID); h != nil {
		go h.Close()
	}

	logrus.WithFields(logrus.Fields{
		"account_id": accountID,
		"code":       code,
		"message":    message,
	}).Warn("[SESSION] Connection closed")

	switch code {
	case transport.CloseLoggedOut:
		// User-initiated remote logout: credentials are gone, never retry.
		st.retryAttempt = 0
		service.stopRetryTimerLocked(st)
		service.limiter.Reset(accountID)
		if err := service.dialer.Purge(accountID, transport.PurgeAggressive); err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Error("[SESSION] Session purge failed")
		}
		service.persistStatus(ctx, accountID, domainAccount.StatusDisconnected)
		service.logActivity(accountID, domainActivity.ActionLoggedOut, message)
		websocket.Send(websocket.BroadcastMessage{
			Code:      "ACCOUNT_LOGGED_OUT",
			Message:   "Account logged out remotely",
			AccountID: accountID,
		})

	case transport.CloseBanned, transport.CloseForbidden, transport.CloseConflict,
		transport.CloseOutdated, transport.CloseRateLimited:
		// Permanent class. Retrying would amplify the problem, in the
		// rate-limited case literally so.
		st.retryAttempt = 0
		service.stopRetryTimerLocked(st)
		service.persistStatus(ctx, accountID, domainAccount.StatusError)
		service.logActivity(accountID, domainActivity.ActionAuthFailure, fmt.Sprintf("%s: %s", code, message))
		websocket.Send(websocket.BroadcastMessage{
			Code:      "ACCOUNT_ERROR",
			Message:   string(code),
			AccountID: accountID,
		})

	default:
		service.scheduleReconnectLocked(accountID, st)
	}
}

func (service *serviceSession) handleReceipt(ctx context.Context, evt transport.Event) {
	var status domainCampaign.MessageStatus
	switch evt.Receipt {
	case transport.ReceiptDelivered:
		status = domainCampaign.MessageDelivered
	case transport.ReceiptRead:
		status = domainCampaign.MessageRead
	default:
		return
	}

	if err := service.campaignRepo.UpdateMessageStatusByWireID(ctx, evt.MessageIDs, status); err != nil {
		logrus.WithError(err).Error("[SESSION] Failed to apply delivery receipt")
	}
}

// scheduleReconnectLocked arranges the next bounded reconnect attempt.
// Caller holds the account state lock. Delays escalate 5s, 15s, 45s, 135s,
// then cap at 300s; the sixth consecutive failure parks the account in
// status error with no further attempts.
func (service *serviceSession) scheduleReconnectLocked(accountID string, st *sessionState) {
	ctx := context.Background()

	if st.retryAttempt >= config.ReconnectMaxAttempts {
		logrus.WithField("account_id", accountID).Error("[SESSION] Reconnect attempts exhausted")
		st.retryAttempt = 0
		service.stopRetryTimerLocked(st)
		service.persistStatus(ctx, accountID, domainAccount.StatusError)
		service.logActivity(accountID, domainActivity.ActionReconnectExhausted,
			fmt.Sprintf("gave up after %d attempts", config.ReconnectMaxAttempts))
		websocket.Send(websocket.BroadcastMessage{
			Code:      "ACCOUNT_ERROR",
			Message:   "reconnect attempts exhausted",
			AccountID: accountID,
		})
		return
	}

	delay := backoffDelay(st.retryAttempt)
	st.retryAttempt++
	service.persistStatus(ctx, accountID, domainAccount.StatusReconnecting)
	service.logActivity(accountID, domainActivity.ActionReconnectScheduled,
		fmt.Sprintf("attempt %d in %s", st.retryAttempt, delay))
	logrus.WithFields(logrus.Fields{
		"account_id": accountID,
		"attempt":    st.retryAttempt,
		"delay":      delay,
	}).Info("[SESSION] Reconnect scheduled")

	service.stopRetryTimerLocked(st)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		st.Lock()
		defer st.Unlock()

		// Teardown stops the timer under the state lock, but a callback
		// that already fired may be parked on the lock right here. Bail
		// out if this timer is no longer the pending one.
		if st.retryTimer != timer {
			return
		}
		st.retryTimer = nil

		// Scheduled attempts pass through the same cooldown guard as
		// manual ones; a rejection burns one attempt from the budget.
		if ok, wait := service.limiter.TryReserve(accountID); !ok {
			logrus.WithFields(logrus.Fields{
				"account_id":  accountID,
				"retry_after": wait,
			}).Warn("[SESSION] Reconnect attempt hit cooldown")
			service.scheduleReconnectLocked(accountID, st)
			return
		}

		// Drop corruptible sidecars, keep credentials so the retry does
		// not force a new pairing.
		if err := service.dialer.Purge(accountID, transport.PurgeLight); err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Error("[SESSION] Light purge failed")
		}

		// connectLocked schedules the next attempt itself when the open
		// fails, so a returned error needs no further handling here.
		if err := service.connectLocked(context.Background(), accountID, st); err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Warn("[SESSION] Reconnect attempt failed")
		}
	})
	st.retryTimer = timer
}

// backoffDelay returns min(base * factor^attempt, max).
func backoffDelay(attempt int) time.Duration {
	delay := config.ReconnectBaseDelay
	for i := 0; i < attempt; i++ {
		delay *= time.Duration(config.ReconnectDelayFactor)
		if delay >= config.ReconnectMaxDelay {
			return config.ReconnectMaxDelay
		}
	}
	if delay > config.ReconnectMaxDelay {
		return config.ReconnectMaxDelay
	}
	return delay
}

// Disconnect gracefully tears down the session and clears all volatile
// tracking. Logout failing is expected when the link is already dead.
func (service *serviceSession) Disconnect(ctx context.Context, accountID string) error {
	if _, err := service.accountRepo.GetByID(ctx, accountID); err != nil {
		return err
	}

	st := service.state(accountID)
	st.Lock()
	defer st.Unlock()

	service.teardownLocked(ctx, accountID, st)

	empty := ""
	statusDisconnected := domainAccount.StatusDisconnected
	if err := service.accountRepo.Update(ctx, accountID, domainAccount.Fields{
		Status:    &statusDisconnected,
		QRPayload: &empty,
	}); err != nil {
		return err
	}

	service.logActivity(accountID, domainActivity.ActionDisconnected, "explicit disconnect")
	return nil
}

// teardownLocked logs out and discards the live handle plus all volatile
// per-account tracking. Caller holds the account state lock.
func (service *serviceSession) teardownLocked(ctx context.Context, accountID string, st *sessionState) {
	if handle := service.registry.Remove(accountID); handle != nil {
		if err := handle.Logout(ctx); err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Debug("[SESSION] Logout failed (link already dead)")
		}
		// Close waits for in-flight event handlers, and those block on the
		// state lock held here. Closing synchronously would deadlock.
		go handle.Close()
	}

	st.retryAttempt = 0
	service.stopRetryTimerLocked(st)
	service.limiter.Reset(accountID)
}

// ForceReconnect discards the whole persisted session so the next connect
// always requires a fresh pairing, then connects immediately.
func (service *serviceSession) ForceReconnect(ctx context.Context, accountID string) error {
	acc, err := service.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return err
	}

	st := service.state(acc.ID)
	st.Lock()
	defer st.Unlock()

	service.teardownLocked(ctx, acc.ID, st)

	if err := service.dialer.Purge(acc.ID, transport.PurgeAggressive); err != nil {
		logrus.WithError(err).WithField("account_id", acc.ID).Error("[SESSION] Aggressive purge failed")
	}

	service.logActivity(acc.ID, domainActivity.ActionForceReconnect, "session artifacts purged, fresh pairing required")

	if ok, wait := service.limiter.TryReserve(acc.ID); !ok {
		return pkgError.RateLimitedError{AccountID: acc.ID, RetryAfter: wait}
	}
	return service.connectLocked(ctx, acc.ID, st)
}

// DisconnectAll closes every live handle. Shutdown only: persisted statuses
// are left untouched so the startup batch reconnects the same accounts.
func (service *serviceSession) DisconnectAll(ctx context.Context) {
	handles := service.registry.Drain()
	logrus.Infof("[SESSION] Disconnecting %d live sessions", len(handles))

	for accountID, handle := range handles {
		if handle == nil {
			continue
		}
		if err := handle.Logout(ctx); err != nil {
			logrus.WithError(err).WithField("account_id", accountID).Debug("[SESSION] Logout failed during shutdown")
		}
		handle.Close()
	}

	service.statesMu.Lock()
	for _, st := range service.states {
		st.Lock()
		service.stopRetryTimerLocked(st)
		st.retryAttempt = 0
		st.Unlock()
	}
	service.states = make(map[string]*sessionState)
	service.statesMu.Unlock()

	service.limiter.ResetAll()
}

// ConnectAllOnStartup reconnects every account that was not explicitly
// disconnected before the last shutdown. Individual failures never abort
// the batch.
func (service *serviceSession) ConnectAllOnStartup(ctx context.Context) {
	accounts, err := service.accountRepo.ListByStatusNot(ctx, domainAccount.StatusDisconnected)
	if err != nil {
		logrus.WithError(err).Error("[SESSION] Startup reconnect listing failed")
		return
	}

	logrus.Infof("[SESSION] Startup reconnect for %d accounts", len(accounts))
	for _, acc := range accounts {
		if err := service.Connect(ctx, acc.ID); err != nil {
			logrus.WithError(err).WithField("account_id", acc.ID).Warn("[SESSION] Startup reconnect failed")
		}
	}
}

func (service *serviceSession) GetStatus(ctx context.Context, accountID string) (domainAccount.ConnectionState, error) {
	acc, err := service.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return domainAccount.ConnectionState{}, err
	}

	st := service.state(acc.ID)
	st.Lock()
	budget := config.ReconnectMaxAttempts - st.retryAttempt
	st.Unlock()

	_, connected := service.registry.Get(acc.ID)

	state := domainAccount.ConnectionState{
		AccountID:   acc.ID,
		Connected:   connected && acc.Status == domainAccount.StatusConnected,
		Status:      acc.Status,
		QRPayload:   acc.QRPayload,
		RetryBudget: budget,
	}
	if acc.LastConnectedAt != nil {
		state.LastSeen = acc.LastConnectedAt.Format(time.RFC3339)
	}
	return state, nil
}

// PairCode requests a phone-number pairing code for an account that is mid
// pairing. The transport rejects it once the account is already paired.
func (service *serviceSession) PairCode(ctx context.Context, accountID, phone string) (string, error) {
	handle, ok := service.registry.Get(accountID)
	if !ok {
		return "", pkgError.NotConnectedError(accountID)
	}

	code, err := handle.PairCode(ctx, phone)
	if err != nil {
		return "", err
	}

	service.logActivity(accountID, domainActivity.ActionPairCodeRequested, fmt.Sprintf("pairing code requested for %s", phone))
	logrus.WithFields(logrus.Fields{
		"account_id": accountID,
		"phone":      phone,
	}).Info("[SESSION] Pairing code issued")
	return code, nil
}

// Send delegates to the live handle. Transport failures propagate unchanged;
// retry policy belongs to the caller's accounting, not this layer.
func (service *serviceSession) Send(ctx context.Context, accountID, target string, content domainAccount.SendContent) (domainAccount.SendResult, error) {
	handle, ok := service.registry.Get(accountID)
	if !ok {
		return domainAccount.SendResult{}, pkgError.NotConnectedError(accountID)
	}

	receipt, err := handle.Send(ctx, target, transport.Content{Body: content.Body, MediaRef: content.MediaRef})
	if err != nil {
		return domainAccount.SendResult{}, err
	}
	return domainAccount.SendResult{MessageID: receipt.MessageID, Timestamp: receipt.Timestamp}, nil
}

func (service *serviceSession) stopRetryTimerLocked(st *sessionState) {
	if st.retryTimer != nil {
		st.retryTimer.Stop()
		st.retryTimer = nil
	}
}

// logActivity is fire-and-forget: audit failures never fail the operation
// that produced them.
func (service *serviceSession) logActivity(accountID, action, description string) {
	ctx := context.Background()
	if err := service.activityRepo.Append(ctx, accountID, action, description); err != nil {
		logrus.WithError(err).WithField("account_id", accountID).Error("[ACTIVITY] Append failed")
	}
	if service.mirror != nil {
		entry := domainActivity.Entry{
			ID:          fiberUtils.UUIDv4(),
			AccountID:   accountID,
			Action:      action,
			Description: description,
			CreatedAt:   time.Now(),
		}
		go func() {
			if err := service.mirror.PublishActivity(context.Background(), entry); err != nil {
				logrus.WithError(err).Debug("[ACTIVITY] Mirror publish failed")
			}
		}()
	}
}

func (service *serviceSession) persistStatus(ctx context.Context, accountID string, status domainAccount.Status) {
	empty := ""
	if err := service.accountRepo.Update(ctx, accountID, domainAccount.Fields{
		Status:    &status,
		QRPayload: &empty,
	}); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"account_id": accountID,
			"status":     status,
		}).Error("[SESSION] Failed to persist status")
	}
}
