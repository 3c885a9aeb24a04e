package validations

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	domainAccount "github.com/marianovz/wa-blast/domains/account"
	pkgError "github.com/marianovz/wa-blast/pkg/apperror"
)

func ValidateCreateAccount(ctx context.Context, request domainAccount.CreateAccountRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.Name, validation.Required, validation.Length(1, 120)),
	)

	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	return nil
}
