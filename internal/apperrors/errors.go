// Package apperrors declares the error categories shared by the cart, checkout,
// payment and order components. Component errors wrap one of these so callers
// and the HTTP layer can branch with errors.Is.
package apperrors

import "errors"

var (
	// ErrValidation covers missing shipping fields, an empty cart and quantities below 1.
	ErrValidation = errors.New("validation error")
	// ErrRemoteUnavailable means a cart or order store call failed; retrying is safe.
	ErrRemoteUnavailable = errors.New("remote store unavailable")
	// ErrPaymentDeclined means the provider refused the capture. The buyer stays on the payment step.
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrPriceMismatch means the submitted total disagrees with the server-side recomputation.
	ErrPriceMismatch = errors.New("price mismatch")
	// ErrInvalidTransition rejects an order status change that is not an allowed edge.
	ErrInvalidTransition = errors.New("invalid order status transition")

	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// IsRecoverable reports whether the buyer can retry the same operation.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRemoteUnavailable) || errors.Is(err, ErrPaymentDeclined)
}
