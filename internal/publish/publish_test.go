package publish

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const table = `
publishes:
  - {merchant: "00000001", code: A1, version: "0002", crc: "AABBCCDD", size: 10, path: a1.bin}
  - {merchant: "00000001", code: A1, version: "0003", scope: line, target: L7}
  - {merchant: "00000001", code: A1, version: "0004", scope: terminal, target: BUS-9}
  - {merchant: "00000001", code: B2, version: "0101"}
  - {merchant: "00000002", code: A1, version: "0009"}
`

func TestStaticResolvePriority(t *testing.T) {
	ctx := context.Background()
	src, err := ParseStatic([]byte(table))
	require.NoError(t, err)

	tests := []struct {
		name   string
		target Target
		want   string
	}{
		{"Merchant", Target{MerchantID: "00000001", LineNO: "L1", TerminalID: "BUS-1"}, "0002"},
		{"Line", Target{MerchantID: "00000001", LineNO: "L7", TerminalID: "BUS-1"}, "0003"},
		{"Terminal", Target{MerchantID: "00000001", LineNO: "L7", TerminalID: "BUS-9"}, "0004"},
		{"OtherMerchant", Target{MerchantID: "00000002"}, "0009"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, ok, err := ExpectedVersion(ctx, src, tt.target, "A1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, e.Version)
		})
	}

	all, err := src.Expected(ctx, Target{MerchantID: "00000001"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, ok, err := ExpectedVersion(ctx, src, Target{MerchantID: "00000003"}, "A1")
	require.NoError(t, err)
	assert.False(t, ok)

	e, ok, err := src.Lookup(ctx, "00000001", "A1", "0002")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a1.bin", e.Path)
}

func TestStaticRejectsBadEntries(t *testing.T) {
	_, err := ParseStatic([]byte(`publishes: [{merchant: "1", code: A1, version: "2"}]`))
	assert.Error(t, err)
	_, err = ParseStatic([]byte(`publishes: [{merchant: "1", code: A1, version: "0002", scope: city}]`))
	assert.Error(t, err)
}

func TestDBSourceCacheAndInvalidate(t *testing.T) {
	ctx := context.Background()
	db, err := repo.Open(repo.DriverSQLite, filepath.Join(t.TempDir(), "publish.db"), false)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db))
	t.Cleanup(func() { _ = repo.Close(db) })

	row := repo.FilePublish{MerchantID: "00000001", FileTypeID: "A1", FileVer: "0002", PublishType: repo.PublishTypeMerchant}
	require.NoError(t, repo.FilePublishSave(ctx, db, &row))

	src := NewDBSource(db)
	target := Target{MerchantID: "00000001", LineNO: "L1"}
	e, ok, err := ExpectedVersion(ctx, src, target, "A1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0002", e.Version)

	line := repo.FilePublish{MerchantID: "00000001", FileTypeID: "A1", FileVer: "0005", PublishType: repo.PublishTypeLine, PublishTarget: "L1"}
	require.NoError(t, repo.FilePublishSave(ctx, db, &line))

	e, _, err = ExpectedVersion(ctx, src, target, "A1")
	require.NoError(t, err)
	assert.Equal(t, "0002", e.Version, "served from cache")

	src.Invalidate("00000001")
	e, _, err = ExpectedVersion(ctx, src, target, "A1")
	require.NoError(t, err)
	assert.Equal(t, "0005", e.Version)
}
