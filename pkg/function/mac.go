package function

import (
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// MacPad appends 0x80 then zeros up to the next 8-byte boundary. A message
// already on a boundary still gets a full padding block.
func MacPad(data []byte) []byte {
	n := 8 - len(data)%8
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	out = append(out, 0x80)
	for i := 1; i < n; i++ {
		out = append(out, 0x00)
	}
	return out
}

// Mac computes the ISO 9797-1 algorithm 3 (ANSI X9.19) MAC: single-DES
// CBC under the left key half, then the last block encrypted with 3DES under
// the full double-length key. The full 8-byte result is returned.
func Mac(data, key, iv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, fmt.Errorf("mac -> key must be 16 bytes, got %d", len(key))
	}
	if iv == nil {
		iv = make([]byte, 8)
	}
	if err := must8(iv, "mac -> iv"); err != nil {
		return nil, err
	}

	padded := MacPad(data)
	chain := iv
	if head := padded[:len(padded)-8]; len(head) > 0 {
		enc, err := DesCbcEncrypt(head, key[:8], iv)
		if err != nil {
			return nil, fmt.Errorf("mac -> chain: %w", err)
		}
		chain = enc[len(enc)-8:]
	}
	state := make([]byte, 8)
	xorBlock(state, chain, padded[len(padded)-8:])

	out, err := DesEcbEncrypt(state, key)
	if err != nil {
		return nil, fmt.Errorf("mac -> final block: %w", err)
	}
	return out, nil
}

// GetMac returns the 4-byte MAC terminals exchange.
func GetMac(data, key []byte) ([]byte, error) {
	m, err := Mac(data, key, nil)
	if err != nil {
		return nil, err
	}
	return m[:4], nil
}

func CheckMac(data, mac, key []byte) bool {
	if len(mac) != 4 {
		return false
	}
	want, err := GetMac(data, key)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(want, mac) == 1
}

// MD5Hex is the lowercase hex md5 of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// SessionToken is rotated daily per terminal.
func SessionToken(terminalID string, day time.Time) []byte {
	sum := md5.Sum([]byte(fmt.Sprintf("slzr-token-%s-%s", terminalID, day.Format("20060102"))))
	return sum[:]
}

func MacKey(terminalID string) []byte {
	sum := md5.Sum([]byte("slzr-mackey-" + terminalID))
	return sum[:]
}
