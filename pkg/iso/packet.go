package iso

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	LenPrefixLen = 2
	TPDULen      = 5
	AppHeaderLen = 6
	HeaderLen    = TPDULen + AppHeaderLen

	// MaxPacketLen bounds LEN, header included.
	MaxPacketLen = 8192
)

// Status byte carried in the application header of outbound packets.
const (
	StatusNone        byte = 0x00
	StatusNeedSignIn  byte = 0x03
	StatusUnreadMsgs  byte = 0x05
	tpduMarker        byte = 0x60
	appHeaderMarker   byte = 0x61
	appHeaderVersion  byte = 0x22
	appHeaderTerminal byte = 0x01
)

// Header is the TPDU plus application header in front of every ISO body.
type Header struct {
	TPDU [TPDULen]byte
	App  [AppHeaderLen]byte
}

func (h Header) Status() byte {
	return h.App[2]
}

// ResponseHeader builds the outbound header with the given status byte.
func ResponseHeader(status byte) Header {
	var h Header
	h.TPDU[0] = tpduMarker
	h.App = [AppHeaderLen]byte{appHeaderMarker, appHeaderVersion, status, 0x00, 0x00, appHeaderTerminal}
	return h
}

// Packet is one length-delimited unit read from a terminal socket.
type Packet struct {
	Header Header
	Body   []byte
}

// ReadPacket reads one packet. io.EOF is returned untouched when the peer
// closed between packets; anything else that breaks framing is a
// *ProtocolError.
func ReadPacket(r io.Reader) (*Packet, error) {
	var lenBuf [LenPrefixLen]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if n <= HeaderLen || n > MaxPacketLen {
		return nil, protoErr("", 0, fmt.Sprintf("invalid packet length %d", n), nil)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, protoErr("", 0, "truncated packet", err)
	}

	p := &Packet{Body: buf[HeaderLen:]}
	copy(p.Header.TPDU[:], buf[:TPDULen])
	copy(p.Header.App[:], buf[TPDULen:HeaderLen])
	if p.Header.TPDU[0] != tpduMarker {
		return nil, protoErr("", 0, fmt.Sprintf("unexpected TPDU id %02X", p.Header.TPDU[0]), nil)
	}
	return p, nil
}

// BuildPacket prefixes body with the length and header.
func BuildPacket(h Header, body []byte) ([]byte, error) {
	n := HeaderLen + len(body)
	if n > MaxPacketLen {
		return nil, protoErr("", 0, fmt.Sprintf("packet length %d exceeds %d", n, MaxPacketLen), nil)
	}
	out := make([]byte, LenPrefixLen, LenPrefixLen+n)
	binary.BigEndian.PutUint16(out, uint16(n))
	out = append(out, h.TPDU[:]...)
	out = append(out, h.App[:]...)
	return append(out, body...), nil
}

func WritePacket(w io.Writer, h Header, body []byte) error {
	raw, err := BuildPacket(h, body)
	if err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}
