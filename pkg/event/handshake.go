package event

import "errors"

// ErrHandshakeMissingCode fails the request synchronously; the provider needs a
// code to activate the subscription.
var ErrHandshakeMissingCode = errors.New("subscription validation event has no validation code")

// ValidationResponse is the body the provider expects back from a handshake.
type ValidationResponse struct {
	ValidationResponse string `json:"validationResponse"`
}

// Handshake reports whether events contain a subscription validation and, if so,
// the response that must be returned in place of normal processing.
func Handshake(events []Event) (ValidationResponse, bool, error) {
	for _, ev := range events {
		validation, ok := ev.(SubscriptionValidation)
		if !ok {
			continue
		}
		if validation.ValidationCode == "" {
			return ValidationResponse{}, true, ErrHandshakeMissingCode
		}
		return ValidationResponse{ValidationResponse: validation.ValidationCode}, true, nil
	}

	return ValidationResponse{}, false, nil
}
