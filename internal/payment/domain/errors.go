package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidProvider     = errors.New("invalid_provider")
	ErrProviderNotFound    = errors.New("provider_not_found")
	ErrInvalidPayload      = errors.New("invalid_payload")
	ErrInvalidSignature    = errors.New("invalid_signature")
	ErrInvalidEvent        = errors.New("invalid_event")
	ErrInvalidConfig       = errors.New("invalid_provider_config")
	ErrEventInFlight       = errors.New("event_in_flight")
	ErrMissingMetadata     = errors.New("missing_metadata")
	ErrInvalidMetadata     = errors.New("invalid_metadata")
	ErrGatewayUnavailable  = errors.New("gateway_unavailable")
	ErrInvalidStatusFilter = errors.New("invalid_status_filter")
)

// MissingMetadataError names the metadata key an event arrived without.
type MissingMetadataError struct {
	Key string
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("missing_metadata: %s", e.Key)
}

func (e *MissingMetadataError) Is(target error) bool {
	return target == ErrMissingMetadata
}

// InvalidMetadataError names a metadata key whose value could not be used.
type InvalidMetadataError struct {
	Key   string
	Value string
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("invalid_metadata: %s=%q", e.Key, e.Value)
}

func (e *InvalidMetadataError) Is(target error) bool {
	return target == ErrInvalidMetadata
}
