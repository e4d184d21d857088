package validations

import (
	"regexp"

	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const sessionIDMessage = "must be 1-64 letters, digits, '-' or '_'"

// sessionIDPattern keeps ids safe to use as file and key names.
var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidateSessionID(id string) error {
	err := validation.Validate(id,
		validation.Required,
		validation.Match(sessionIDPattern).Error(sessionIDMessage),
	)
	if err != nil {
		return pkgError.ValidationError("session_id: " + err.Error())
	}
	return nil
}
