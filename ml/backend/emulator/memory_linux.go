package emulator

import (
	"log/slog"

	"golang.org/x/sys/unix"
)

func systemMemory() uint64 {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		slog.Warn("unable to read system memory, using default", "error", err)
		return defaultMemory
	}

	return uint64(info.Totalram) * uint64(info.Unit)
}
