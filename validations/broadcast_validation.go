package validations

import (
	"context"
	"regexp"

	domainBroadcast "github.com/AzielCF/az-wap-broadcast/domains/broadcast"
	pkgError "github.com/AzielCF/az-wap-broadcast/pkg/error"
	"github.com/AzielCF/az-wap-broadcast/sessions/domain/session"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	maxTextLength = 4096
	maxDelayMs    = 10 * 60 * 1000
)

var (
	groupIDPattern = regexp.MustCompile(`^[0-9]+(-[0-9]+)?@g\.us$`)
	// mediaRefPattern matches the file names handed out by the upload endpoint.
	mediaRefPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}(\.[A-Za-z0-9]{1,10})?$`)
)

func validateMedia(ctx context.Context, media *session.MediaRef) error {
	if media == nil {
		return nil
	}
	return validation.ValidateStructWithContext(ctx, media,
		validation.Field(&media.Path, validation.Required, validation.Match(mediaRefPattern).Error("must be a reference returned by the media upload")),
		validation.Field(&media.MimeType, validation.Length(0, 255)),
	)
}

func ValidateSendMessage(ctx context.Context, request domainBroadcast.SendMessageRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.SessionID, validation.Required, validation.Match(sessionIDPattern).Error(sessionIDMessage)),
		validation.Field(&request.GroupID, validation.Required, validation.Match(groupIDPattern).Error("must be a group jid")),
		validation.Field(&request.Text, validation.When(request.Media == nil, validation.Required), validation.RuneLength(0, maxTextLength)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	if err := validateMedia(ctx, request.Media); err != nil {
		return pkgError.ValidationError("media: " + err.Error())
	}
	return nil
}

func ValidateBulkSend(ctx context.Context, request domainBroadcast.BulkSendRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.SessionID, validation.Required, validation.Match(sessionIDPattern).Error(sessionIDMessage)),
		validation.Field(&request.GroupIDs, validation.Each(validation.Required, validation.Match(groupIDPattern).Error("must be a group jid"))),
		validation.Field(&request.Text, validation.When(request.Media == nil, validation.Required), validation.RuneLength(0, maxTextLength)),
		validation.Field(&request.DelayMs, validation.Min(0), validation.Max(maxDelayMs)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	if err := validateMedia(ctx, request.Media); err != nil {
		return pkgError.ValidationError("media: " + err.Error())
	}
	return nil
}
