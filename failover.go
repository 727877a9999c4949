package shardengine

import (
	"context"
	"errors"
	"strings"
	"syscall"
)

// IsFailoverQualifiedIOError reports whether err indicates the segment
// store or translog's underlying storage is unhealthy in a way that
// warrants treating it as a TragicEvent rather than a transient,
// retryable failure.
//
// This is distinct from ShouldRetry: transient errors should be retried
// first; this targets permanent media/FS/device conditions where
// continuing to write is unsafe.
func IsFailoverQualifiedIOError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	always := []syscall.Errno{
		syscall.EIO,
		syscall.ENODEV,
		syscall.ENXIO,
		syscall.EROFS,
		syscall.ENOSPC,
		syscall.EDQUOT,
	}
	for _, code := range always {
		if errors.Is(err, code) {
			return true
		}
	}

	s := err.Error()
	if strings.Contains(s, "read-only file system") || strings.Contains(s, "readonly file system") {
		return true
	}
	return false
}
