package domain

import "errors"

var (
	ErrIgnoredEvent          = errors.New("notification type is not handled")
	ErrMalformedNotification = errors.New("malformed inbound notification")
	ErrMissingContent        = errors.New("inbound email has no content")
	ErrNoDebtorFound         = errors.New("no debtor found for sender")
	ErrNoEmailConsent        = errors.New("debtor has not consented to email contact")
	ErrNotFound              = errors.New("not found")
	ErrMissingReference      = errors.New("email requires both a debt and a thread")
	ErrDuplicateMessageID    = errors.New("email with this message id already exists")
	ErrReferentialIntegrity  = errors.New("referenced debt or thread does not exist")
	ErrGeneration            = errors.New("response generation failed")
	ErrDelivery              = errors.New("email delivery failed")
)
