//go:build !libmpv

package audio

import (
	"errors"

	"github.com/liuran001/MusicPlayer-Go/core"
)

// NewMPV reports that the libmpv engine is not compiled in.
func NewMPV(logger core.Logger) (Backend, error) {
	return nil, errors.New("libmpv backend is not enabled; build with -tags libmpv")
}
