package firmware

import (
	"errors"

	apperrors "fwupdate/pkg/errors"
)

var (
	ErrFirmwareUnavailable = errors.New("firmware channel unavailable")
	ErrVersionNotFound     = errors.New("firmware version not found")
	ErrCorruptEntry        = errors.New("firmware entry has no usable file name")
)

const cacheSuffix = "not available in local firmware cache"

func unavailable(channel string) error {
	return apperrors.ErrLookupMiss.
		WithMessage("Firmware for %s %s", channel, cacheSuffix).
		WithDetail("channel", channel).
		WithCause(ErrFirmwareUnavailable)
}

func versionNotFound(channel, version string, known int) error {
	return apperrors.ErrLookupMiss.
		WithMessage("Firmware version %s for %s %s (%d versions cached)", version, channel, cacheSuffix, known).
		WithDetail("channel", channel).
		WithDetail("version", version).
		WithCause(ErrVersionNotFound)
}

func corruptEntry(channel, version string) error {
	return apperrors.ErrCacheCorruption.
		WithMessage("Invalid firmware file name for version %s for %s %s", version, channel, cacheSuffix).
		WithDetail("channel", channel).
		WithDetail("version", version).
		WithCause(ErrCorruptEntry)
}
