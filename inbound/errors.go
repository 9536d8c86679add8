package inbound

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

func inboundError(message string, category goerrors.Category, textCode string, metadata map[string]any) error {
	err := core.NewRelayError(message, category, textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundWrapError(source error, category goerrors.Category, textCode string, message string, metadata map[string]any) error {
	if source == nil {
		return inboundError(message, category, textCode, metadata)
	}
	err := core.WrapRelayError(source, category, textCode, message)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func inboundBadInput(message string, metadata map[string]any) error {
	return inboundError(message, goerrors.CategoryBadInput, core.RelayErrorBadInput, metadata)
}

func inboundUnauthorized(source error, message string, metadata map[string]any) error {
	return inboundWrapError(source, goerrors.CategoryAuth, core.RelayErrorUnauthorized, message, metadata)
}

func inboundForbidden(message string, metadata map[string]any) error {
	return inboundError(message, goerrors.CategoryAuthz, core.RelayErrorForbidden, metadata)
}

func inboundStale(message string, metadata map[string]any) error {
	return inboundError(message, goerrors.CategoryValidation, core.RelayErrorStaleEvent, metadata)
}

func inboundInternal(message string, metadata map[string]any) error {
	return inboundError(message, goerrors.CategoryInternal, core.RelayErrorInternal, metadata)
}
