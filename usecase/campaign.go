package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	domainAccount "github.com/marianovz/wa-blast/domains/account"
	domainActivity "github.com/marianovz/wa-blast/domains/activity"
	domainCampaign "github.com/marianovz/wa-blast/domains/campaign"
	pkgError "github.com/marianovz/wa-blast/pkg/apperror"
	"github.com/marianovz/wa-blast/ui/websocket"
	"github.com/marianovz/wa-blast/validations"
	"github.com/sirupsen/logrus"
)

type serviceCampaign struct {
	campaignRepo domainCampaign.ICampaignRepository
	accountRepo  domainAccount.IAccountRepository
	activityRepo domainActivity.IActivityRepository
	session      domainAccount.ISessionUsecase

	// One cancellation token per active dispatch run. Pause and Cancel
	// trip it; the loop also re-polls the persisted status each iteration
	// so external writers are honored too.
	runsMu sync.Mutex
	runs   map[string]context.CancelFunc
}

func NewCampaignService(
	campaignRepo domainCampaign.ICampaignRepository,
	accountRepo domainAccount.IAccountRepository,
	activityRepo domainActivity.IActivityRepository,
	session domainAccount.ISessionUsecase,
) domainCampaign.ICampaignUsecase {
	return &serviceCampaign{
		campaignRepo: campaignRepo,
		accountRepo:  accountRepo,
		activityRepo: activityRepo,
		session:      session,
		runs:         make(map[string]context.CancelFunc),
	}
}

// Create snapshots the target messages at creation time. Membership is
// immutable afterwards: the dispatcher only flips message statuses.
func (service *serviceCampaign) Create(ctx context.Context, request domainCampaign.CreateCampaignRequest) (domainCampaign.Campaign, error) {
	if err := validations.ValidateCreateCampaign(ctx, request); err != nil {
		return domainCampaign.Campaign{}, err
	}

	if _, err := service.accountRepo.GetByID(ctx, request.AccountID); err != nil {
		return domainCampaign.Campaign{}, err
	}

	c := domainCampaign.Campaign{
		ID:           uuid.New().String(),
		AccountID:    request.AccountID,
		Name:         request.Name,
		Status:       domainCampaign.StatusDraft,
		DelaySeconds: request.DelaySeconds,
		ScheduledAt:  request.ScheduledAt,
	}

	msgs := make([]domainCampaign.Message, len(request.Messages))
	for i, m := range request.Messages {
		msgs[i] = domainCampaign.Message{
			Phone:    m.Phone,
			Body:     m.Body,
			MediaRef: m.MediaRef,
			Status:   domainCampaign.MessagePending,
		}
	}

	if err := service.campaignRepo.Create(ctx, c, msgs); err != nil {
		return domainCampaign.Campaign{}, err
	}

	created, err := service.campaignRepo.GetByID(ctx, c.ID)
	if err != nil {
		// Creation succeeded; fall back to the input snapshot.
		return c, nil
	}
	return created, nil
}

func (service *serviceCampaign) Get(ctx context.Context, id string) (domainCampaign.Campaign, domainCampaign.Stats, error) {
	c, err := service.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return domainCampaign.Campaign{}, domainCampaign.Stats{}, err
	}
	stats, err := service.campaignRepo.Stats(ctx, id)
	if err != nil {
		return domainCampaign.Campaign{}, domainCampaign.Stats{}, err
	}
	return c, stats, nil
}

func (service *serviceCampaign) List(ctx context.Context) ([]domainCampaign.Campaign, error) {
	return service.campaignRepo.List(ctx)
}

// RunCampaign is one sequential dispatch pass over the campaign's pending
// messages. Single in-flight send per campaign; the inter-message delay is
// the pacing mechanism.
func (service *serviceCampaign) RunCampaign(ctx context.Context, id string) error {
	// ctx is the run's cancellation token and nothing else. Storage reads,
	// status flips and the in-flight transport send always run to completion
	// on a detached context; the token is honored only at the loop top and
	// in the pacing sleep, so a pause never aborts a send halfway.
	opCtx := context.WithoutCancel(ctx)

	c, err := service.campaignRepo.GetByID(opCtx, id)
	if err != nil {
		return err
	}
	if c.Status != domainCampaign.StatusRunning {
		return pkgError.NotRunningError(id)
	}

	pending, err := service.campaignRepo.ListMessages(opCtx, id, domainCampaign.MessagePending)
	if err != nil {
		return service.cancelOnFailure(opCtx, id, err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": id,
		"pending":     len(pending),
		"delay":       c.DelaySeconds,
	}).Info("[CAMPAIGN] Dispatch pass started")

	delay := time.Duration(c.DelaySeconds) * time.Second
	sentCount, failedCount := 0, 0

	for i, msg := range pending {
		// Cooperative cancellation: honor the run token and any status
		// change written by a concurrent control operation. A pause can
		// take up to one send-plus-delay to bite; it never interrupts an
		// in-flight send.
		if ctx.Err() != nil {
			break
		}
		current, err := service.campaignRepo.GetByID(opCtx, id)
		if err != nil {
			service.applyCounters(id, sentCount, failedCount)
			return service.cancelOnFailure(opCtx, id, err)
		}
		if current.Status != domainCampaign.StatusRunning {
			logrus.WithFields(logrus.Fields{
				"campaign_id": id,
				"status":      current.Status,
			}).Info("[CAMPAIGN] Dispatch stopped by status change")
			break
		}

		sendErr, persistErr := service.dispatchOne(opCtx, c, msg)
		if sendErr != nil {
			failedCount++
		} else {
			sentCount++
		}
		if persistErr != nil {
			service.applyCounters(id, sentCount, failedCount)
			return service.cancelOnFailure(opCtx, id, persistErr)
		}

		// Pacing sleep, skipped after the final message.
		if i < len(pending)-1 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}

	service.applyCounters(id, sentCount, failedCount)

	remaining, err := service.campaignRepo.CountMessages(opCtx, id, domainCampaign.MessagePending)
	if err != nil {
		return service.cancelOnFailure(opCtx, id, err)
	}
	if remaining == 0 {
		now := time.Now()
		statusCompleted := domainCampaign.StatusCompleted
		if err := service.campaignRepo.Update(opCtx, id, domainCampaign.Fields{
			Status:      &statusCompleted,
			CompletedAt: &now,
		}); err != nil {
			return service.cancelOnFailure(opCtx, id, err)
		}
		service.logActivity(c.AccountID, domainActivity.ActionCampaignCompleted,
			fmt.Sprintf("campaign %s completed: %s sent, %s failed", id,
				humanize.Comma(int64(sentCount)), humanize.Comma(int64(failedCount))))
		websocket.Send(websocket.BroadcastMessage{
			Code:      "CAMPAIGN_COMPLETED",
			Message:   "Campaign completed",
			AccountID: c.AccountID,
			Result:    map[string]any{"campaign_id": id, "sent": sentCount, "failed": failedCount},
		})
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": id,
		"sent":        sentCount,
		"failed":      failedCount,
	}).Info("[CAMPAIGN] Dispatch pass finished")
	return nil
}

// dispatchOne flips one message pending -> sent|failed, exactly once. A
// transport failure is per-message accounting, never fatal for the run. A
// persistence failure after the send IS fatal: the flip would be lost and
// a later resume would send the message again.
func (service *serviceCampaign) dispatchOne(ctx context.Context, c domainCampaign.Campaign, msg domainCampaign.Message) (sendErr, persistErr error) {
	result, err := service.session.Send(ctx, c.AccountID, msg.Phone, domainAccount.SendContent{
		Body:     msg.Body,
		MediaRef: msg.MediaRef,
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"campaign_id": c.ID,
			"message_id":  msg.ID,
			"phone":       msg.Phone,
		}).Warn("[CAMPAIGN] Message send failed")

		statusFailed := domainCampaign.MessageFailed
		errText := err.Error()
		if updateErr := service.campaignRepo.UpdateMessage(ctx, msg.ID, domainCampaign.MessageFields{
			Status: &statusFailed,
			Error:  &errText,
		}); updateErr != nil {
			logrus.WithError(updateErr).WithField("message_id", msg.ID).Error("[CAMPAIGN] Failed to record message failure")
			return err, updateErr
		}
		return err, nil
	}

	now := time.Now()
	statusSent := domainCampaign.MessageSent
	if updateErr := service.campaignRepo.UpdateMessage(ctx, msg.ID, domainCampaign.MessageFields{
		Status: &statusSent,
		WireID: &result.MessageID,
		SentAt: &now,
	}); updateErr != nil {
		logrus.WithError(updateErr).WithField("message_id", msg.ID).Error("[CAMPAIGN] Failed to record message success")
		return nil, updateErr
	}
	return nil, nil
}

func (service *serviceCampaign) applyCounters(id string, sent, failed int) {
	if sent == 0 && failed == 0 {
		return
	}
	if err := service.campaignRepo.IncrementCounters(context.Background(), id, sent, failed); err != nil {
		logrus.WithError(err).WithField("campaign_id", id).Error("[CAMPAIGN] Failed to increment counters")
	}
}

// cancelOnFailure marks the campaign cancelled on an unexpected failure and
// rethrows it. Send failures never come through here.
func (service *serviceCampaign) cancelOnFailure(ctx context.Context, id string, cause error) error {
	statusCancelled := domainCampaign.StatusCancelled
	if err := service.campaignRepo.Update(ctx, id, domainCampaign.Fields{Status: &statusCancelled}); err != nil {
		logrus.WithError(err).WithField("campaign_id", id).Error("[CAMPAIGN] Failed to mark campaign cancelled")
	}
	logrus.WithError(cause).WithField("campaign_id", id).Error("[CAMPAIGN] Dispatch aborted")
	return cause
}

// StartOrResume marks the campaign running and launches a dispatch pass in
// the background. Resume is the same operation: the pass naturally picks up
// whatever is still pending.
func (service *serviceCampaign) StartOrResume(ctx context.Context, id string) error {
	c, err := service.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch c.Status {
	case domainCampaign.StatusCompleted, domainCampaign.StatusCancelled:
		return pkgError.ValidationError(fmt.Sprintf("campaign %s is %s and cannot be started", id, c.Status))
	}

	service.runsMu.Lock()
	if _, active := service.runs[id]; active {
		service.runsMu.Unlock()
		return pkgError.ValidationError(fmt.Sprintf("campaign %s already has an active dispatch run", id))
	}
	runCtx, cancel := context.WithCancel(context.Background())
	service.runs[id] = cancel
	service.runsMu.Unlock()

	statusRunning := domainCampaign.StatusRunning
	if err := service.campaignRepo.Update(ctx, id, domainCampaign.Fields{Status: &statusRunning}); err != nil {
		service.clearRun(id)
		return err
	}

	service.logActivity(c.AccountID, domainActivity.ActionCampaignStarted, fmt.Sprintf("campaign %s dispatching", id))

	go func() {
		defer service.clearRun(id)
		if err := service.RunCampaign(runCtx, id); err != nil {
			logrus.WithError(err).WithField("campaign_id", id).Error("[CAMPAIGN] Background dispatch failed")
		}
	}()
	return nil
}

func (service *serviceCampaign) Pause(ctx context.Context, id string) error {
	c, err := service.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != domainCampaign.StatusRunning {
		return pkgError.NotRunningError(id)
	}

	statusPaused := domainCampaign.StatusPaused
	if err := service.campaignRepo.Update(ctx, id, domainCampaign.Fields{Status: &statusPaused}); err != nil {
		return err
	}

	service.cancelRun(id)
	service.logActivity(c.AccountID, domainActivity.ActionCampaignPaused, fmt.Sprintf("campaign %s paused", id))
	return nil
}

func (service *serviceCampaign) Cancel(ctx context.Context, id string) error {
	c, err := service.campaignRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}

	switch c.Status {
	case domainCampaign.StatusCompleted, domainCampaign.StatusCancelled:
		return pkgError.ValidationError(fmt.Sprintf("campaign %s is already %s", id, c.Status))
	}

	statusCancelled := domainCampaign.StatusCancelled
	if err := service.campaignRepo.Update(ctx, id, domainCampaign.Fields{Status: &statusCancelled}); err != nil {
		return err
	}

	service.cancelRun(id)
	service.logActivity(c.AccountID, domainActivity.ActionCampaignCancelled, fmt.Sprintf("campaign %s cancelled", id))
	return nil
}

// DispatchDue starts every scheduled draft campaign whose time has come.
// Individual failures never abort the batch.
func (service *serviceCampaign) DispatchDue(ctx context.Context) error {
	due, err := service.campaignRepo.ListDue(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, c := range due {
		logrus.WithFields(logrus.Fields{
			"campaign_id":  c.ID,
			"scheduled_at": c.ScheduledAt,
		}).Info("[CAMPAIGN] Starting scheduled campaign")
		if err := service.StartOrResume(ctx, c.ID); err != nil {
			logrus.WithError(err).WithField("campaign_id", c.ID).Warn("[CAMPAIGN] Scheduled start failed")
		}
	}
	return nil
}

func (service *serviceCampaign) cancelRun(id string) {
	service.runsMu.Lock()
	cancel, ok := service.runs[id]
	service.runsMu.Unlock()
	if ok {
		cancel()
	}
}

func (service *serviceCampaign) clearRun(id string) {
	service.runsMu.Lock()
	if cancel, ok := service.runs[id]; ok {
		cancel()
		delete(service.runs, id)
	}
	service.runsMu.Unlock()
}

func (service *serviceCampaign) logActivity(accountID, action, description string) {
	if err := service.activityRepo.Append(context.Background(), accountID, action, description); err != nil {
		logrus.WithError(err).WithField("account_id", accountID).Error("[ACTIVITY] Append failed")
	}
}
