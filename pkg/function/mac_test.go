package function

import (
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unhex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

const testKey = "0123456789ABCDEFFEDCBA9876543210"

func TestMacReferenceVectors(t *testing.T) {
	key := unhex(t, testKey)

	tests := []struct {
		name string
		data string
		mac  string
	}{
		{"PartialBlock", "0102030405060708090A0B0C0D0E0F10111213", "E505F9E4225A2B1B"},
		{"Empty", "", "F1FBCF2A56D19BA7"},
		{"OneFullBlock", "0102030405060708", "59997D5B782645F9"},
		{"AsciiTwoBlocks", hex.EncodeToString([]byte("1234567890ABCDEF")), "CFBDEBC88B2198BD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Mac(unhex(t, tt.data), key, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.mac, strings.ToUpper(hex.EncodeToString(got)))

			short, err := GetMac(unhex(t, tt.data), key)
			require.NoError(t, err)
			assert.Equal(t, tt.mac[:8], strings.ToUpper(hex.EncodeToString(short)))
			assert.True(t, CheckMac(unhex(t, tt.data), short, key))
		})
	}
}

func TestCheckMacRejects(t *testing.T) {
	key := unhex(t, testKey)
	data := unhex(t, "0102030405060708090A0B0C0D0E0F10111213")

	assert.False(t, CheckMac(data, unhex(t, "E505F9E5"), key))
	assert.False(t, CheckMac(data, unhex(t, "E505F9E4225A"), key))
	assert.False(t, CheckMac(data, unhex(t, "E505F9E4"), key[:8]))
}

func TestMacPad(t *testing.T) {
	assert.Equal(t, unhex(t, "8000000000000000"), MacPad(nil))
	assert.Equal(t, unhex(t, "0102038000000000"), MacPad(unhex(t, "010203")))
	assert.Len(t, MacPad(make([]byte, 8)), 16)
}

func TestDesVectors(t *testing.T) {
	key := unhex(t, testKey)

	t.Run("SingleDesEcb", func(t *testing.T) {
		out, err := DesEcbEncrypt(unhex(t, "0000000000000000"), unhex(t, "0123456789ABCDEF"))
		require.NoError(t, err)
		assert.Equal(t, "d5d44ff720683d0d", hex.EncodeToString(out))

		out, err = DesEcbEncrypt(unhex(t, "0102030405060708"), unhex(t, "0123456789ABCDEF"))
		require.NoError(t, err)
		assert.Equal(t, "e68f791bab16d4e6", hex.EncodeToString(out))
	})

	t.Run("TripleDesEcbRoundTrip", func(t *testing.T) {
		plain := unhex(t, "0102030405060708")
		out, err := DesEcbEncrypt(plain, key)
		require.NoError(t, err)
		assert.Equal(t, "a85ceb8cdadff808", hex.EncodeToString(out))

		back, err := DesEcbDecrypt(out, key)
		require.NoError(t, err)
		assert.Equal(t, plain, back)
	})

	t.Run("TripleDesCbcRoundTrip", func(t *testing.T) {
		plain := unhex(t, "0102030405060708090A0B0C0D0E0F10")
		iv := unhex(t, "1122334455667788")
		out, err := DesCbcEncrypt(plain, key, iv)
		require.NoError(t, err)
		assert.Equal(t, "5848b4aeb92bef6538440d2a664fb8cf", hex.EncodeToString(out))

		back, err := DesCbcDecrypt(out, key, iv)
		require.NoError(t, err)
		assert.Equal(t, plain, back)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := DesEcbEncrypt(make([]byte, 7), key)
		assert.ErrorIs(t, err, ErrNotFullBlocks)

		_, err = DesEcbEncrypt(make([]byte, 8), make([]byte, 12))
		assert.ErrorIs(t, err, ErrInvalidKeyLength)

		_, err = DesCbcEncrypt(make([]byte, 8), key, make([]byte, 4))
		assert.ErrorIs(t, err, ErrInvalidIV)
	})
}

func TestTokens(t *testing.T) {
	assert.Equal(t, "e5852fd8cf6cde9723b6cc6ee8f36cbf", hex.EncodeToString(MacKey("BUS-00001234")))

	day := time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local)
	assert.Equal(t, "16612030f680b3c05cb3f2e9007c537f", hex.EncodeToString(SessionToken("BUS-00001234", day)))
	assert.Equal(t, "e5852fd8cf6cde9723b6cc6ee8f36cbf", MD5Hex("slzr-mackey-BUS-00001234"))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "0123********cdef", MaskKey("0123456789abcdef"))
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "A1000", PadRightZero("A1", 5))
	assert.Equal(t, "000A1", PadLeftZero("A1", 5))
	assert.Equal(t, []byte{'A', 0, 0}, FixedBytes([]byte("A"), 3))
	assert.Equal(t, []byte{0x12, 0x34}, Uint16Bytes(0x1234))
	assert.Equal(t, "A1", TrimNul([]byte{'A', '1', 0, 0}))

	v, ok := BcdByte(0x42)
	assert.True(t, ok)
	assert.Equal(t, 42, v)
	_, ok = BcdByte(0x4A)
	assert.False(t, ok)
}
