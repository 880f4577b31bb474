package license

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	f "github.com/alfianX/crossgate-gw/pkg/function"
)

// Product is the first segment of a decrypted license.
const Product = "XGW1"

// HostRootMount is where the host filesystem is mounted inside a container.
const HostRootMount = "/host-root"

var (
	ErrMalformed = errors.New("license error")
	ErrNotValid  = errors.New("license not valid")
	ErrExpired   = errors.New("license expired")
)

func CurrentDir() (string, error) {
	ex, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.Dir(ex), nil
}

// HostVolume returns the serial the license is bound to, reading the host
// root when running in a container.
func HostVolume() (string, error) {
	if IsRunningInContainer() {
		return volumeSerial(HostRootMount)
	}
	return volumeSerial("")
}

// Check decrypts key with the volume serial and verifies "XGW1;YYYYMMDD;00".
func Check(key, volumesn string, now time.Time) error {
	src, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("%w: key is not hex", ErrMalformed)
	}
	desKey, err := hex.DecodeString(strings.ToUpper(volumesn) + "00000000")
	if err != nil || len(desKey) != 8 {
		return fmt.Errorf("%w: bad volume serial %q", ErrMalformed, volumesn)
	}

	plain, err := f.DesEcbDecrypt(src, desKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	lic := strings.Split(string(f.ZeroUnPadding(plain)), ";")
	if len(lic) < 3 || lic[0] != Product || len(lic[1]) != 8 {
		return ErrMalformed
	}
	if lic[2] != "00" {
		return ErrNotValid
	}
	if lic[1] < now.Format("20060102") {
		return fmt.Errorf("%w %s-%s-%s", ErrExpired, lic[1][:4], lic[1][4:6], lic[1][6:8])
	}
	return nil
}

// IsRunningInContainer looks for the docker marker file and container
// cgroup paths.
func IsRunningInContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	content, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return false
	}
	s := string(content)
	return strings.Contains(s, "docker") || strings.Contains(s, "container") || strings.Contains(s, "kubepods")
}
