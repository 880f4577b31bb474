package function

import (
	"bytes"
	"crypto/cipher"
	"crypto/des"
	"errors"
	"fmt"
)

var (
	ErrNotFullBlocks    = errors.New("crypto/cipher: input not full blocks")
	ErrInvalidKeyLength = errors.New("crypto/des: key must be 8, 16 or 24 bytes")
	ErrInvalidIV        = errors.New("crypto/des: iv must be 8 bytes")
)

// tripleKey expands a double-length key K1K2 into K1K2K1.
func tripleKey(key []byte) ([]byte, error) {
	switch len(key) {
	case 16:
		k := make([]byte, 0, 24)
		k = append(k, key...)
		return append(k, key[:8]...), nil
	case 24:
		return key, nil
	default:
		return nil, ErrInvalidKeyLength
	}
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) == 8 {
		return des.NewCipher(key)
	}
	k, err := tripleKey(key)
	if err != nil {
		return nil, err
	}
	return des.NewTripleDESCipher(k)
}

func ecb(src, key []byte, encrypt bool) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	bs := block.BlockSize()
	if len(src)%bs != 0 {
		return nil, ErrNotFullBlocks
	}
	out := make([]byte, len(src))
	for i := 0; i < len(src); i += bs {
		if encrypt {
			block.Encrypt(out[i:i+bs], src[i:i+bs])
		} else {
			block.Decrypt(out[i:i+bs], src[i:i+bs])
		}
	}
	return out, nil
}

// DesEcbEncrypt encrypts whole blocks with single DES (8-byte key) or
// 3DES (16/24-byte key). No padding is applied.
func DesEcbEncrypt(src, key []byte) ([]byte, error) {
	return ecb(src, key, true)
}

func DesEcbDecrypt(src, key []byte) ([]byte, error) {
	return ecb(src, key, false)
}

// DesCbcEncrypt is CBC without padding; len(src) must be a multiple of 8.
func DesCbcEncrypt(src, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, ErrInvalidIV
	}
	if len(src)%block.BlockSize() != 0 {
		return nil, ErrNotFullBlocks
	}
	out := make([]byte, len(src))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, src)
	return out, nil
}

func DesCbcDecrypt(src, key, iv []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != block.BlockSize() {
		return nil, ErrInvalidIV
	}
	if len(src)%block.BlockSize() != 0 {
		return nil, ErrNotFullBlocks
	}
	out := make([]byte, len(src))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, src)
	return out, nil
}

func ZeroUnPadding(origData []byte) []byte {
	return bytes.TrimRight(origData, "\x00")
}

func xorBlock(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}

func must8(b []byte, what string) error {
	if len(b) != 8 {
		return fmt.Errorf("%s must be 8 bytes, got %d", what, len(b))
	}
	return nil
}
