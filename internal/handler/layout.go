package handler

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alfianX/crossgate-gw/internal/repo"
	f "github.com/alfianX/crossgate-gw/pkg/function"
	"github.com/alfianX/crossgate-gw/pkg/iso"
)

// Content-type codes are 3 bytes before protocol 0x0200 and 11 bytes from it.
const (
	codeLenV1 = 3
	codeLenV2 = 11
	verLen    = 2
)

func codeLen(protocol int) int {
	if protocol >= iso.ProtocolV2 {
		return codeLenV2
	}
	return codeLenV1
}

func versionString(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

func versionBytes(v string) []byte {
	if b, err := hex.DecodeString(v); err == nil && len(b) == verLen {
		return b
	}
	return f.FixedBytes([]byte(v), verLen)
}

// parseClientFiles reads field 45: repeated code + version(2). The first
// entry wins when a code repeats.
func parseClientFiles(raw []byte, protocol int) map[string]string {
	n := codeLen(protocol)
	size := n + verLen
	out := make(map[string]string, len(raw)/size)
	for i := 0; i+size <= len(raw); i += size {
		code := f.TrimNul(raw[i : i+n])
		if code == "" {
			continue
		}
		if _, dup := out[code]; dup {
			continue
		}
		out[code] = versionString(raw[i+n : i+size])
	}
	return out
}

// parseProperties reads the TLVs of field 54: tag(1), BCD length(1), value.
func parseProperties(raw []byte) map[string]string {
	out := make(map[string]string)
	for pos := 0; pos+2 <= len(raw); {
		tag := fmt.Sprintf("%02X", raw[pos])
		n, ok := f.BcdByte(raw[pos+1])
		pos += 2
		if !ok || pos+n > len(raw) {
			break
		}
		out[tag] = string(raw[pos : pos+n])
		pos += n
	}
	return out
}

// encodeExpected builds field 46: code + version(2) + size(4) + crc(4) per
// out-of-date content type, ordered by code.
func encodeExpected(versions map[string]repo.FileVersion, protocol int) []byte {
	codes := make([]string, 0, len(versions))
	for code := range versions {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	n := codeLen(protocol)
	var out []byte
	for _, code := range codes {
		fv := versions[code]
		out = append(out, f.FixedBytes([]byte(code), n)...)
		out = append(out, versionBytes(fv.Expected)...)
		out = binary.BigEndian.AppendUint32(out, uint32(fv.ExpectedSize))
		crc, err := hex.DecodeString(f.PadLeftZero(strings.TrimSpace(fv.ExpectedCrc), 8))
		if err != nil || len(crc) != 4 {
			crc = make([]byte, 4)
		}
		out = append(out, crc...)
	}
	return out
}

type fileRequest struct {
	Code    string
	Version string
	Offset  int64
	Length  int
}

// parseFileRequest reads field 47/50: code + version(2) + offset(4) + length(4).
func parseFileRequest(raw []byte, protocol int) (fileRequest, error) {
	n := codeLen(protocol)
	if len(raw) < n+verLen+8 {
		return fileRequest{}, fmt.Errorf("file request of %d bytes", len(raw))
	}
	req := fileRequest{
		Code:    f.TrimNul(raw[:n]),
		Version: versionString(raw[n : n+verLen]),
		Offset:  int64(binary.BigEndian.Uint32(raw[n+verLen:])),
		Length:  int(binary.BigEndian.Uint32(raw[n+verLen+4:])),
	}
	if req.Code == "" {
		return fileRequest{}, fmt.Errorf("empty file code")
	}
	return req, nil
}

// encodeMessage builds field 51: type(2) + id(4) + body.
func encodeMessage(box *repo.MsgBox) ([]byte, error) {
	msgType, err := hex.DecodeString(f.PadLeftZero(box.Content.MsgTypeID, 4))
	if err != nil || len(msgType) != 2 {
		return nil, fmt.Errorf("message type %q", box.Content.MsgTypeID)
	}
	out := append(msgType, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(out[2:], uint32(box.ID))

	if box.Content.CodeType == repo.MsgCodeASCII {
		return append(out, box.Content.Content...), nil
	}
	body, err := hex.DecodeString(box.Content.Content)
	if err != nil {
		return nil, fmt.Errorf("message %d body is not hex: %w", box.ID, err)
	}
	return append(out, body...), nil
}

type msgConfirm struct {
	ID      int64
	Code    string
	Content string
}

// parseConfirms reads field 52 records: len(2, BCD) + type(2) + id(4) +
// result(2) + content. len counts the bytes after itself.
func parseConfirms(raw []byte) []msgConfirm {
	s := strings.ToUpper(hex.EncodeToString(raw))
	var out []msgConfirm
	for pos := 0; pos+20 <= len(s); {
		n, err := strconv.Atoi(s[pos : pos+4])
		if err != nil {
			break
		}
		recLen := n * 2
		pos += 4
		pos += 4 // type
		id, err := strconv.ParseInt(s[pos:pos+8], 16, 64)
		if err != nil {
			break
		}
		pos += 8
		code := s[pos : pos+4]
		pos += 4
		contentLen := recLen - 16
		if contentLen < 0 || pos+contentLen > len(s) {
			break
		}
		out = append(out, msgConfirm{ID: id, Code: code, Content: s[pos : pos+contentLen]})
		pos += contentLen
	}
	return out
}

// unionPayPayload builds field 62 of 0410.
func unionPayPayload(key *repo.UnionPayTerminalKey) []byte {
	if key == nil {
		return []byte{0xB0, 0x01}
	}
	out := []byte(key.UPMerchantID)
	out = append(out, key.UPTerminalID...)
	if k, err := hex.DecodeString(key.UPKey); err == nil {
		out = append(out, k...)
	} else {
		out = append(out, key.UPKey...)
	}
	return append(out, 0x90, 0x00)
}
