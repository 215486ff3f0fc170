package errors

import (
	"fmt"
)

// NewConfigError creates a configuration error. These abort startup.
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeConfiguration, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewMalformedMessageError reports a source message whose id is not an integer
func NewMalformedMessageError(rawID string, err error) *AppError {
	return Wrap(err, ErrCodeMalformedMessage, "message id is not an integer").
		WithContext("raw_message_id", rawID)
}

// NewResolutionError reports a failed author or attachment lookup
func NewResolutionError(what string, err error) *AppError {
	return Wrap(err, ErrCodeResolutionFailure, fmt.Sprintf("failed to resolve %s", what)).
		WithContext("resolving", what)
}

// NewDeliveryError reports a destination send failure
func NewDeliveryError(kind string, destination int64, err error) *AppError {
	return Wrap(err, ErrCodeDeliveryFailure, fmt.Sprintf("failed to deliver %s", kind)).
		WithContext("kind", kind).
		WithContext("destination", destination)
}

// NewCorruptionError reports an unreadable persisted document
func NewCorruptionError(document string, err error) *AppError {
	return Wrap(err, ErrCodePersistenceCorruption, "persisted document is unreadable").
		WithContext("document", document)
}

// NewPersistenceError reports a failed document write
func NewPersistenceError(document string, err error) *AppError {
	return WrapRetryable(err, ErrCodePersistenceWrite, "failed to persist document").
		WithContext("document", document)
}

// NewInvalidInputError creates an error whose user message is safe to reply with
func NewInvalidInputError(message string) *AppError {
	return New(ErrCodeInvalidInput, message).WithUserMessage(message)
}

// NewUnauthorizedError is returned when a non-admin issues an admin command
func NewUnauthorizedError(userID int64) *AppError {
	return New(ErrCodeUnauthorized, "admin command from non-admin").
		WithContext("user_id", userID).
		WithUserMessage("Access denied.")
}
