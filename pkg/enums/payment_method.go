package enums

import "fmt"

// PaymentMethod identifies the provider flow chosen at checkout.
type PaymentMethod string

const (
	// PaymentMethodCOD settles on delivery, no gateway involved.
	PaymentMethodCOD PaymentMethod = "cod"
	// PaymentMethodGatewayRedirect sends the buyer to an HMAC-signed hosted page.
	PaymentMethodGatewayRedirect PaymentMethod = "gateway_redirect"
	// PaymentMethodGatewayCapture runs a two-phase approve/capture flow.
	PaymentMethodGatewayCapture PaymentMethod = "gateway_capture"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCOD,
	PaymentMethodGatewayRedirect,
	PaymentMethodGatewayCapture,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// RequiresDeadline reports whether orders paid this way carry a payment
// deadline and an inventory reservation. COD deducts stock immediately.
func (p PaymentMethod) RequiresDeadline() bool {
	return p != PaymentMethodCOD
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
