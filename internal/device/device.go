// Package device plays and captures session audio on the local sound card
// through miniaudio. Builds without cgo get a backend that always reports
// ErrUnavailable.
package device

import "errors"

// ErrUnavailable is returned when no audio backend could be initialized
var ErrUnavailable = errors.New("device: audio backend unavailable")
