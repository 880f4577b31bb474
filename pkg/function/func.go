package function

import (
	"encoding/binary"
	"strings"
)

// MaskKey hides the middle of key material before it reaches a log line.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	length := len(key)
	visibleCount := length / 4
	return key[:visibleCount] + strings.Repeat("*", length-visibleCount*2) + key[length-visibleCount:]
}

func PadRightZero(s string, totalLength int) string {
	if len(s) >= totalLength {
		return s
	}
	return s + strings.Repeat("0", totalLength-len(s))
}

func PadLeftZero(s string, totalLength int) string {
	if len(s) >= totalLength {
		return s
	}
	return strings.Repeat("0", totalLength-len(s)) + s
}

// FixedBytes copies b into a slice of exactly n bytes, truncating or
// padding with 0x00 on the right.
func FixedBytes(b []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, b)
	return out
}

// Uint16Bytes truncates v to two big-endian bytes.
func Uint16Bytes(v int) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, uint16(v))
	return out
}

// BcdByte decodes one packed-BCD byte; ok is false on a nibble above 9.
func BcdByte(b byte) (int, bool) {
	hi, lo := int(b>>4), int(b&0x0f)
	if hi > 9 || lo > 9 {
		return 0, false
	}
	return hi*10 + lo, true
}

// TrimNul drops NUL padding from fixed-width text.
func TrimNul(b []byte) string {
	return strings.ReplaceAll(string(b), "\x00", "")
}
