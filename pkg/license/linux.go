//go:build linux

package license

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// volumeSerial derives an 8 hex char id from the filesystem id of root
// ("/" when empty).
func volumeSerial(root string) (string, error) {
	if root == "" {
		root = "/"
	}
	var stat unix.Statfs_t
	if err := unix.Statfs(root, &stat); err != nil {
		return "", fmt.Errorf("license -> statfs %s: %w", root, err)
	}
	if len(stat.Fsid.Val) < 2 {
		return "", errors.New("license -> fsid structure incompatible")
	}

	id := uint64(uint32(stat.Fsid.Val[0]))<<32 | uint64(uint32(stat.Fsid.Val[1]))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, id)
	return hex.EncodeToString(buf)[:8], nil
}
