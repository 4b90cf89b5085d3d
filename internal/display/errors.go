package display

import (
	"context"
	"errors"
	"strings"
	"syscall"

	"github.com/photonicat/inky_photo_frame/internal/epd"
)

var transientErrnos = []syscall.Errno{
	syscall.EBUSY,
	syscall.EAGAIN,
	syscall.EINTR,
	syscall.EIO,
	syscall.ETIMEDOUT,
}

// Fragments that mark a bus hiccup in errors that carry no type.
var transientWords = []string{"busy", "timeout", "timed out", "transfer", "resource temporarily unavailable"}

// IsTransient reports whether err may clear on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, epd.ErrBusyTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var be *epd.BusError
	if errors.As(err, &be) {
		return be.Temporary()
	}
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	var tmp interface{ Temporary() bool }
	if errors.As(err, &tmp) && tmp.Temporary() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, w := range transientWords {
		if strings.Contains(msg, w) {
			return true
		}
	}
	return false
}
