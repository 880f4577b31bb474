package handler

import (
	"testing"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/alfianX/crossgate-gw/pkg/iso"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientFiles(t *testing.T) {
	v1 := []byte{'A', '1', 0, 0x00, 0x01, 'B', '2', 'X', 0x12, 0x34, 'A', '1', 0, 0x00, 0x09}
	assert.Equal(t, map[string]string{"A1": "0001", "B2X": "1234"}, parseClientFiles(v1, 0x0100))

	v2 := append([]byte("PARAMETER01"), 0x00, 0x03)
	assert.Equal(t, map[string]string{"PARAMETER01": "0003"}, parseClientFiles(v2, iso.ProtocolV2))

	assert.Empty(t, parseClientFiles([]byte{'A', '1'}, 0x0100), "truncated entry is ignored")
}

func TestParseProperties(t *testing.T) {
	raw := []byte{0x01, 0x03, 'a', 'b', 'c', 0x0A, 0x10, '0', '1', '2', '3', '4', '5', '6', '7', '8', '9'}
	assert.Equal(t, map[string]string{"01": "abc", "0A": "0123456789"}, parseProperties(raw))

	truncated := []byte{0x01, 0x05, 'a'}
	assert.Empty(t, parseProperties(truncated))
}

func TestEncodeExpected(t *testing.T) {
	versions := map[string]repo.FileVersion{
		"B2": {Expected: "0010", ExpectedSize: 256, ExpectedCrc: "ABCD"},
		"A1": {Expected: "0002", ExpectedSize: 20, ExpectedCrc: "1234ABCD"},
	}
	got := encodeExpected(versions, 0x0100)
	want := []byte{
		'A', '1', 0, 0x00, 0x02, 0, 0, 0, 20, 0x12, 0x34, 0xAB, 0xCD,
		'B', '2', 0, 0x00, 0x10, 0, 0, 1, 0, 0x00, 0x00, 0xAB, 0xCD,
	}
	assert.Equal(t, want, got)

	v2 := encodeExpected(map[string]repo.FileVersion{"A1": {Expected: "0002"}}, iso.ProtocolV2)
	assert.Len(t, v2, 11+2+4+4)
}

func TestParseFileRequest(t *testing.T) {
	raw := []byte{'A', '1', 0, 0x00, 0x02, 0, 0, 0x01, 0x00, 0, 0, 0x00, 0x80}
	req, err := parseFileRequest(raw, 0x0100)
	require.NoError(t, err)
	assert.Equal(t, fileRequest{Code: "A1", Version: "0002", Offset: 256, Length: 128}, req)

	_, err = parseFileRequest(raw[:6], 0x0100)
	assert.Error(t, err)
}

func TestEncodeMessage(t *testing.T) {
	box := &repo.MsgBox{ID: 0x1F, Content: repo.MsgContent{MsgTypeID: "0001", CodeType: repo.MsgCodeASCII, Content: "HI"}}
	got, err := encodeMessage(box)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0, 0, 0, 0x1F, 'H', 'I'}, got)

	box.Content.CodeType = repo.MsgCodeHex
	box.Content.Content = "A0B1"
	got, err = encodeMessage(box)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01, 0, 0, 0, 0x1F, 0xA0, 0xB1}, got)

	box.Content.Content = "nothex"
	_, err = encodeMessage(box)
	assert.Error(t, err)
}

func TestParseConfirms(t *testing.T) {
	raw := []byte{
		0x00, 0x09, 0x00, 0x01, 0, 0, 0, 0x05, 0x90, 0x00, 0xAB,
		0x00, 0x08, 0x00, 0x02, 0, 0, 0, 0x06, 0x00, 0x00,
	}
	assert.Equal(t, []msgConfirm{
		{ID: 5, Code: "9000", Content: "AB"},
		{ID: 6, Code: "0000", Content: ""},
	}, parseConfirms(raw))

	assert.Empty(t, parseConfirms(nil))
	assert.Empty(t, parseConfirms([]byte{0x00, 0x30, 0x00, 0x01, 0, 0, 0, 0x05, 0x90, 0x00}), "length beyond data")
}

func TestUnionPayPayload(t *testing.T) {
	assert.Equal(t, []byte{0xB0, 0x01}, unionPayPayload(nil))

	key := &repo.UnionPayTerminalKey{UPMerchantID: "898000000000001", UPTerminalID: "T0000001", UPKey: "0011"}
	want := append([]byte("898000000000001T0000001"), 0x00, 0x11, 0x90, 0x00)
	assert.Equal(t, want, unionPayPayload(key))
}
