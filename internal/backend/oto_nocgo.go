//go:build nocgo
// +build nocgo

package backend

import (
	"errors"

	"github.com/dgnsrekt/glow-audio/internal/probe"
)

// Stub implementation for builds without CGO

// Oto stub for nocgo builds
type Oto struct{}

// NewOto always fails without CGO.
func NewOto(sampleRate, channels int) (*Oto, error) {
	return nil, errors.New("audio not available in nocgo build")
}

func (o *Oto) Supports(format probe.Format) bool {
	return false
}

func (o *Oto) Open(payload []byte, format probe.Format) (Handle, error) {
	return nil, errors.New("audio not available in nocgo build")
}

func (o *Oto) Close() error {
	return nil
}
