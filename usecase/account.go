package usecase

import (
	"context"

	"github.com/google/uuid"
	domainAccount "github.com/marianovz/wa-blast/domains/account"
	domainActivity "github.com/marianovz/wa-blast/domains/activity"
	"github.com/marianovz/wa-blast/domains/transport"
	"github.com/marianovz/wa-blast/validations"
	"github.com/sirupsen/logrus"
)

type serviceAccount struct {
	accountRepo  domainAccount.IAccountRepository
	activityRepo domainActivity.IActivityRepository
	session      domainAccount.ISessionUsecase
	dialer       transport.Dialer
}

func NewAccountService(
	accountRepo domainAccount.IAccountRepository,
	activityRepo domainActivity.IActivityRepository,
	session domainAccount.ISessionUsecase,
	dialer transport.Dialer,
) domainAccount.IAccountUsecase {
	return &serviceAccount{
		accountRepo:  accountRepo,
		activityRepo: activityRepo,
		session:      session,
		dialer:       dialer,
	}
}

func (service *serviceAccount) Create(ctx context.Context, request domainAccount.CreateAccountRequest) (domainAccount.Account, error) {
	if err := validations.ValidateCreateAccount(ctx, request); err != nil {
		return domainAccount.Account{}, err
	}

	acc := domainAccount.Account{
		ID:     uuid.New().String(),
		Name:   request.Name,
		Status: domainAccount.StatusDisconnected,
	}
	if err := service.accountRepo.Create(ctx, acc); err != nil {
		return domainAccount.Account{}, err
	}

	logrus.WithFields(logrus.Fields{
		"account_id": acc.ID,
		"name":       acc.Name,
	}).Info("[ACCOUNT] Account created")

	created, err := service.accountRepo.GetByID(ctx, acc.ID)
	if err != nil {
		return acc, nil
	}
	return created, nil
}

func (service *serviceAccount) Get(ctx context.Context, id string) (domainAccount.Account, error) {
	return service.accountRepo.GetByID(ctx, id)
}

func (service *serviceAccount) List(ctx context.Context) ([]domainAccount.Account, error) {
	return service.accountRepo.List(ctx)
}

// Delete disconnects first so no live handle outlives its account record,
// then discards the persisted session so the ID can be reused for a fresh
// pairing.
func (service *serviceAccount) Delete(ctx context.Context, id string) error {
	if _, err := service.accountRepo.GetByID(ctx, id); err != nil {
		return err
	}

	if err := service.session.Disconnect(ctx, id); err != nil {
		logrus.WithError(err).WithField("account_id", id).Warn("[ACCOUNT] Disconnect before delete failed")
	}
	if err := service.dialer.Purge(id, transport.PurgeAggressive); err != nil {
		logrus.WithError(err).WithField("account_id", id).Warn("[ACCOUNT] Session purge before delete failed")
	}

	if err := service.accountRepo.Delete(ctx, id); err != nil {
		return err
	}
	logrus.WithField("account_id", id).Info("[ACCOUNT] Account deleted")
	return nil
}

func (service *serviceAccount) ActivityLog(ctx context.Context, id string, limit int) ([]domainActivity.Entry, error) {
	if _, err := service.accountRepo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return service.activityRepo.ListByAccount(ctx, id, limit)
}
