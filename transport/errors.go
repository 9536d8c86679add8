package transport

import (
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-relay/core"
)

func transportError(message string, category goerrors.Category, metadata map[string]any) error {
	err := core.NewRelayError(message, category, transportTextCode(category))
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportWrapError(source error, category goerrors.Category, message string, metadata map[string]any) error {
	if source == nil {
		return transportError(message, category, metadata)
	}
	err := core.WrapRelayError(source, category, transportTextCode(category), message)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func transportTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return core.RelayErrorBadInput
	case goerrors.CategoryExternal:
		return core.RelayErrorProcessingFailed
	default:
		return core.RelayErrorInternal
	}
}
