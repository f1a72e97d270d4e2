package nats

import (
	"context"
	"errors"

	"github.com/kmalykh/ragmesh/internal/core/domain"
	"github.com/kmalykh/ragmesh/internal/infrastructure/resilience"
	"github.com/nats-io/nats.go"
)

// Broker errors that clear up once the connection is re-established.
var transientBrokerErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
}

func isTransientBrokerError(err error) bool {
	if resilience.IsCircuitOpen(err) {
		return true
	}
	for _, known := range transientBrokerErrors {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

// classifyNATSError drives the retry executor for publish calls.
func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case isTransientBrokerError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// wrapTemporaryIfNeeded tags connection-level publish failures as
// domain.ErrTemporary so document ingestion reports 503 instead of 500.
func wrapTemporaryIfNeeded(err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if isTransientBrokerError(err) {
		return domain.WrapError(domain.ErrTemporary, "nats publish", err)
	}
	return err
}
