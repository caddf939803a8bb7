package sqs

import (
	"context"
	"errors"

	"github.com/aws/smithy-go"

	"github.com/our-edu/go-sqs-listener/internal/contracts"
)

// permanentCodes are API error codes that will not succeed on retry
var permanentCodes = map[string]bool{
	"QueueDoesNotExist":                           true,
	"AWS.SimpleQueueService.NonExistentQueue":     true,
	"ReceiptHandleIsInvalid":                      true,
	"InvalidParameterValue":                       true,
	"AccessDenied":                                true,
	"AccessDeniedException":                       true,
	"AWS.SimpleQueueService.UnsupportedOperation": true,
}

// classify wraps an SDK error in the engine's error taxonomy
func classify(msg string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return contracts.NewTransientError(msg, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if isQueueMissing(apiErr.ErrorCode()) {
			return contracts.NewPermanentError(msg, errors.Join(contracts.ErrQueueNotFound, err))
		}
		if permanentCodes[apiErr.ErrorCode()] {
			return contracts.NewPermanentError(msg, err)
		}
	}
	return contracts.NewTransientError(msg, err)
}

func isQueueMissing(code string) bool {
	return code == "QueueDoesNotExist" || code == "AWS.SimpleQueueService.NonExistentQueue"
}
