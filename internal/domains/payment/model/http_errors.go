package model

import (
	"errors"
	"net/http"
)

var kindErrorMap = map[string]struct {
	Status int
	Code   string
}{
	KindValidation:        {Status: http.StatusBadRequest, Code: ErrCodeValidation},
	KindConflict:          {Status: http.StatusConflict, Code: ErrCodeIdempotencyConflict},
	KindNotFound:          {Status: http.StatusNotFound, Code: ErrCodePaymentNotFound},
	KindInvalidTransition: {Status: http.StatusConflict, Code: ErrCodeInvalidTransition},
	KindProvider:          {Status: http.StatusBadGateway, Code: ErrCodeProviderError},
	KindFraudBlocked:      {Status: http.StatusForbidden, Code: ErrCodeFraudBlocked},
	KindDelivery:          {Status: http.StatusBadGateway, Code: ErrCodeDeliveryFailed},
	KindTransient:         {Status: http.StatusServiceUnavailable, Code: ErrCodeProviderUnavailable},
}

// HTTPStatus maps a domain error to a response status, an error code and a
// message that is safe to return. Internal errors get a generic message.
func HTTPStatus(err error) (status int, code, message string) {
	mapped, ok := kindErrorMap[Kind(err)]
	if !ok {
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error"
	}
	status, code, message = mapped.Status, mapped.Code, err.Error()

	var paymentErr *PaymentError
	var providerErr *ProviderError
	var fraudErr *FraudBlockedError
	switch {
	case errors.As(err, &fraudErr):
		message = "Payment blocked by fraud screen"
	case errors.As(err, &providerErr):
		message = providerErr.Reason
		if providerErr.Transient {
			status = http.StatusServiceUnavailable
		}
	case errors.As(err, &paymentErr):
		code, message = paymentErr.Code, paymentErr.Message
	}
	return status, code, message
}
