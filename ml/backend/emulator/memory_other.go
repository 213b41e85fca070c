//go:build !linux

package emulator

func systemMemory() uint64 {
	return defaultMemory
}
