package validations

import (
	"context"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	domainCampaign "github.com/marianovz/wa-blast/domains/campaign"
	pkgError "github.com/marianovz/wa-blast/pkg/apperror"
)

// Bare international number, optional plus sign. JID formatting happens at
// the transport layer.
var phonePattern = regexp.MustCompile(`^\+?[0-9]{8,15}$`)

func ValidateCreateCampaign(ctx context.Context, request domainCampaign.CreateCampaignRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.AccountID, validation.Required),
		validation.Field(&request.Name, validation.Required, validation.Length(1, 120)),
		validation.Field(&request.DelaySeconds, validation.Min(0), validation.Max(3600)),
		validation.Field(&request.Messages, validation.Required, validation.Length(1, 10000)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	for _, msg := range request.Messages {
		if err := validateCampaignMessage(ctx, msg); err != nil {
			return err
		}
	}

	return nil
}

func validateCampaignMessage(ctx context.Context, request domainCampaign.CreateMessageRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Phone, validation.Required, validation.Match(phonePattern)),
		validation.Field(&request.Body, validation.Required),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
