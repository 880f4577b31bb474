//go:build windows

package license

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"syscall"
	"unsafe"
)

// volumeSerial reads the serial number of the drive holding the executable.
// root is ignored on windows.
func volumeSerial(_ string) (string, error) {
	dir, err := CurrentDir()
	if err != nil {
		return "", err
	}
	if len(dir) < 3 {
		return "", fmt.Errorf("license -> unexpected executable dir %q", dir)
	}

	kernel32 := syscall.NewLazyDLL("kernel32.dll")
	proc := kernel32.NewProc("GetVolumeInformationA")

	var serial, maxComponentLength, fileSystemFlags uint32
	rootPtr, err := syscall.BytePtrFromString(dir[:3])
	if err != nil {
		return "", err
	}

	ret, _, callErr := proc.Call(
		uintptr(unsafe.Pointer(rootPtr)),
		0,
		0,
		uintptr(unsafe.Pointer(&serial)),
		uintptr(unsafe.Pointer(&maxComponentLength)),
		uintptr(unsafe.Pointer(&fileSystemFlags)),
		0,
		0,
	)
	if ret == 0 {
		return "", fmt.Errorf("license -> GetVolumeInformationA: %w", callErr)
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, serial)
	return hex.EncodeToString(buf), nil
}
