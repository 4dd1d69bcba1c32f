package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable indicates the job database cannot be reached.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAlreadyTerminal indicates a completed/failed job was marked again.
	ErrAlreadyTerminal = errors.New("job already terminal")
	// ErrUnknownStage indicates a stage identifier outside the fixed set.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrNotFound indicates a missing job or remote object.
	ErrNotFound = errors.New("not found")
	// ErrInvalidLocator indicates an object locator in neither accepted form.
	ErrInvalidLocator = errors.New("invalid locator")
	// ErrTransferFailure indicates a download that could not complete.
	ErrTransferFailure = errors.New("transfer failure")
	// ErrUploadFailure indicates an upload that could not complete.
	ErrUploadFailure = errors.New("upload failure")
	// ErrInvalidInput indicates a fetched file that is not a well-formed image.
	ErrInvalidInput = errors.New("invalid input image")
	// ErrMissingInput indicates a required synthesis role with no staged file.
	ErrMissingInput = errors.New("missing input")
	// ErrTimeout indicates a stage process exceeded its binding timeout.
	ErrTimeout = errors.New("timeout")
	// ErrNonZeroExit indicates a stage process exited unsuccessfully.
	ErrNonZeroExit = errors.New("non-zero exit")
	// ErrMissingOutput indicates a stage reported success without producing output.
	ErrMissingOutput = errors.New("missing output")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransferFailure
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
