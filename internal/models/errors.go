package models

import (
	"errors"
	"fmt"
)

// ErrInvalidImage matches every InvalidImageError through errors.Is.
var ErrInvalidImage = errors.New("invalid image")

// InvalidImageError reports input that cannot be decoded or is not a
// 3-channel raster. It is fatal for the leaf it belongs to only.
type InvalidImageError struct {
	Name   string
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	msg := "invalid image"
	if e.Name != "" {
		msg = fmt.Sprintf("invalid image %q", e.Name)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidImageError) Unwrap() error {
	return e.Err
}

func (e *InvalidImageError) Is(target error) bool {
	return target == ErrInvalidImage
}
