package gateway

import (
	"errors"
	"net"

	"wallet_settlement/internal/domain"
)

// Unavailable reports that the gateway could not be reached or failed to answer.
func Unavailable(gw, op string, err error) error {
	return &domain.Error{
		Kind:    domain.KindGatewayUnavailable,
		Message: gw + " " + op + " unavailable",
		Details: map[string]any{"gateway": gw, "operation": op},
		Err:     err,
	}
}

// Rejected reports that the gateway answered and declined the request.
func Rejected(gw, op, reason string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["gateway"] = gw
	details["operation"] = op
	details["reason"] = reason
	return &domain.Error{Kind: domain.KindGatewayRejected, Message: gw + " " + op + " rejected: " + reason, Details: details}
}

// Unknown reports a payout whose outcome could not be determined.
func Unknown(gw, reference string, err error) error {
	return &domain.Error{
		Kind:    domain.KindPayoutStatusUnknown,
		Message: gw + " payout outcome unknown",
		Details: map[string]any{"gateway": gw, "reference": reference},
		Err:     err,
	}
}

// NotSent reports whether a transport error happened while connecting, before
// the request reached the gateway, so the operation certainly had no effect.
// A cancellation or timeout after the connection was made is not covered.
func NotSent(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// ClassifyPayoutTransport maps a transport failure during payout submission.
// Anything that may have reached the gateway is an unknown outcome.
func ClassifyPayoutTransport(gw, reference string, err error) error {
	if NotSent(err) {
		return Unavailable(gw, "payout", err)
	}
	return Unknown(gw, reference, err)
}
