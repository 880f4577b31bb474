package iso

import (
	"encoding/binary"
	"sort"
	"time"
)

// Field numbers used by the gateway handlers. Their byte layout lives in the
// schema document.
const (
	FieldProcCode       = 3
	FieldTerminalType   = 7
	FieldProtocolVer    = 8
	FieldTrace          = 11
	FieldLocalTime      = 12
	FieldLocalDate      = 13
	FieldUploadSeq      = 14
	FieldResponseText   = 38
	FieldResponseCode   = 39
	FieldToken          = 40
	FieldMachineID      = 41
	FieldMerchantID     = 42
	FieldLineNO         = 43
	FieldDeviceNO       = 44
	FieldClientFiles    = 45
	FieldExpectedFiles  = 46
	FieldFileRequestV1  = 47
	FieldFileSegment    = 48
	FieldFileRequestV2  = 50
	FieldMessage        = 51
	FieldMessageConfirm = 52
	FieldMacKey         = 53
	FieldProperties     = 54
	FieldIncrementReq   = 56
	FieldUpload         = 61
	FieldPayload        = 62
	FieldMac            = 64
)

// Response codes carried in field 39.
const (
	RCOk                = "0000"
	RCFormatError       = "0001"
	RCUnsupported       = "0002"
	RCNotSignedIn       = "0003"
	RCIncrementDegraded = "0004"
	RCMacError          = "0005"
	RCFileNotFound      = "0006"
	RCFileOffset        = "0007"
	RCFileSegment       = "0008"
	RCFileInternal      = "0009"
	RCNoMessage         = "0010"
	RCInternal          = "0096"
)

// ProtocolV2 is the first protocol version using 11-byte file codes.
const ProtocolV2 = 0x0200

// Frame is one decoded protocol message. Field values are kept as the raw
// bytes the codec produced: ASCII/BCD text as characters, binary as bytes.
type Frame struct {
	MTI    string
	fields map[int][]byte
	raw    []byte
}

func NewFrame(mti string) *Frame {
	return &Frame{MTI: mti, fields: make(map[int][]byte)}
}

func (f *Frame) Set(id int, val []byte) *Frame {
	f.fields[id] = append([]byte(nil), val...)
	return f
}

func (f *Frame) SetString(id int, val string) *Frame {
	f.fields[id] = []byte(val)
	return f
}

// MacData returns the packed body ahead of the MAC field, which is always
// the last field on the wire. ok is false when f was not decoded from bytes
// or carries no MAC.
func (f *Frame) MacData() ([]byte, bool) {
	mac, ok := f.fields[FieldMac]
	if !ok || f.raw == nil || len(f.raw) < len(mac) {
		return nil, false
	}
	return f.raw[:len(f.raw)-len(mac)], true
}

func (f *Frame) Get(id int) ([]byte, bool) {
	v, ok := f.fields[id]
	return v, ok
}

func (f *Frame) GetString(id int) string {
	return string(f.fields[id])
}

func (f *Frame) Has(id int) bool {
	_, ok := f.fields[id]
	return ok
}

// Fields returns the present field numbers in ascending order.
func (f *Frame) Fields() []int {
	ids := make([]int, 0, len(f.fields))
	for id := range f.fields {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Values returns a copy of the field map.
func (f *Frame) Values() map[int][]byte {
	out := make(map[int][]byte, len(f.fields))
	for id, v := range f.fields {
		out[id] = append([]byte(nil), v...)
	}
	return out
}

func (f *Frame) Ok() *Frame {
	return f.SetString(FieldResponseCode, RCOk)
}

func (f *Frame) ResponseCode() string {
	return f.GetString(FieldResponseCode)
}

// Response starts the reply frame for f.
func (f *Frame) Response() *Frame {
	return NewFrame(ResponseMTI(f.MTI))
}

// Stamp sets local time and date fields.
func (f *Frame) Stamp(now time.Time) *Frame {
	f.SetString(FieldLocalTime, now.Format("150405"))
	return f.SetString(FieldLocalDate, now.Format("20060102"))
}

func (f *Frame) TerminalType() string { return f.GetString(FieldTerminalType) }
func (f *Frame) MachineID() string    { return f.GetString(FieldMachineID) }
func (f *Frame) MerchantID() string   { return f.GetString(FieldMerchantID) }
func (f *Frame) LineNO() string       { return f.GetString(FieldLineNO) }
func (f *Frame) DeviceNO() string     { return f.GetString(FieldDeviceNO) }

// TerminalID is "{type}-{machine}", empty when the machine id is absent.
func (f *Frame) TerminalID() string {
	machine := f.MachineID()
	if machine == "" {
		return ""
	}
	return f.TerminalType() + "-" + machine
}

// ProtocolVersion reads field 8 as a big-endian number, 0x0100 when absent.
func (f *Frame) ProtocolVersion() int {
	v, ok := f.fields[FieldProtocolVer]
	if !ok || len(v) != 2 {
		return 0x0100
	}
	return int(binary.BigEndian.Uint16(v))
}

// ResponseMTI bumps the third digit: 0800 -> 0810, 0540 -> 0550.
func ResponseMTI(mti string) string {
	if len(mti) != 4 || mti[2] < '0' || mti[2] > '8' {
		return mti
	}
	b := []byte(mti)
	b[2]++
	return string(b)
}

// IsResponseMTI reports whether the third digit is odd.
func IsResponseMTI(mti string) bool {
	if len(mti) != 4 || mti[2] < '0' || mti[2] > '9' {
		return false
	}
	return (mti[2]-'0')%2 == 1
}
