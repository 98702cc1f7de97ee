package flashops

import (
	"context"
	"fmt"
)

// ChipInfo identifies the attached chip.
type ChipInfo struct {
	Name        string
	MAC         string
	FlashSize   int64
	Revision    string
	Features    []string
	CrystalFreq string
}

// ReadableFlashSize renders FlashSize in whole mebibytes, e.g. "4 MB".
func (c ChipInfo) ReadableFlashSize() string {
	return fmt.Sprintf("%d MB", c.FlashSize/(1<<20))
}

// ProgressFunc receives flash write progress in bytes.
type ProgressFunc func(written, total int)

// Loader performs the bootloader-level operations. Implementations get
// exclusive use of the handle for the duration of each call and should
// report failures as *Failure.
type Loader interface {
	Identify(ctx context.Context, h *Handle) (*ChipInfo, error)
	ReadFlash(ctx context.Context, h *Handle, offset, length uint32) ([]byte, error)
	EraseFlash(ctx context.Context, h *Handle) error
	WriteFlash(ctx context.Context, h *Handle, image []byte, offset uint32, progress ProgressFunc) error
}
