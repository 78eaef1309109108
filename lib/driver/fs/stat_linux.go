//go:build linux

package fs

import (
	"os"
	"syscall"
	"time"

	"github.com/ansvik/stash/lib/driver"
)

// fillTimes adds access and change instants from the underlying stat
// structure. Linux exposes no birth time through syscall.Stat_t; ctime is
// the closest available stand-in.
func fillTimes(meta *driver.Meta, info os.FileInfo) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	meta.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	meta.Ctime = time.Unix(st.Ctim.Sec, st.Ctim.Nsec)
	meta.Birthtime = meta.Ctime
}
