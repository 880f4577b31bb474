package license

import (
	"encoding/hex"
	"testing"
	"time"

	f "github.com/alfianX/crossgate-gw/pkg/function"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issue(t *testing.T, text, volumesn string) string {
	t.Helper()
	key, err := hex.DecodeString(volumesn + "00000000")
	require.NoError(t, err)
	plain := f.FixedBytes([]byte(text), (len(text)+7)/8*8)
	enc, err := f.DesEcbEncrypt(plain, key)
	require.NoError(t, err)
	return hex.EncodeToString(enc)
}

func TestCheck(t *testing.T) {
	const vol = "1a2b3c4d"
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.Local)

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"Valid", issue(t, "XGW1;20991231;00", vol), nil},
		{"SameDay", issue(t, "XGW1;20250601;00", vol), nil},
		{"Expired", issue(t, "XGW1;20250531;00", vol), ErrExpired},
		{"Revoked", issue(t, "XGW1;20991231;01", vol), ErrNotValid},
		{"OtherProduct", issue(t, "TMS2;20991231;00", vol), ErrMalformed},
		{"OtherHost", issue(t, "XGW1;20991231;00", "99999999"), ErrMalformed},
		{"NotHex", "zz", ErrMalformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.key, vol, now)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
