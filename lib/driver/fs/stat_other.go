//go:build !linux

package fs

import (
	"os"

	"github.com/ansvik/stash/lib/driver"
)

// fillTimes is a no-op on platforms without a portable stat structure;
// mtime and size are already populated from os.FileInfo.
func fillTimes(_ *driver.Meta, _ os.FileInfo) {}
