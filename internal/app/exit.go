package app

import (
	"context"
	"errors"

	"go.trai.ch/twoliter/internal/core/domain"
)

// Exit codes surfaced by the driver.
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitLockDrift = 10
	ExitResolver  = 11
	ExitBuild     = 12
	ExitIO        = 13
	ExitCancelled = 14
)

// ExitCode maps an operation error to the driver's exit code table.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return ExitCancelled
	case errors.Is(err, domain.ErrLockDrift) || errors.Is(err, domain.ErrLockMissing):
		return ExitLockDrift
	case errors.Is(err, domain.ErrKitVersionConflict),
		errors.Is(err, domain.ErrSdkConflict),
		errors.Is(err, domain.ErrSdkMissing),
		errors.Is(err, domain.ErrDependencyCycle),
		errors.Is(err, domain.ErrArchUnsupported),
		errors.Is(err, domain.ErrMetadataMissing),
		errors.Is(err, domain.ErrVendorUnknown):
		return ExitResolver
	case errors.Is(err, domain.ErrStageFailed), errors.Is(err, domain.ErrNodeSkipped):
		return ExitBuild
	case errors.Is(err, domain.ErrProjectNotFound),
		errors.Is(err, domain.ErrSchemaUnsupported),
		errors.Is(err, domain.ErrManifestInvalid),
		errors.Is(err, domain.ErrDuplicateName):
		return ExitUsage
	default:
		return ExitIO
	}
}
