package ingest

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alfianX/crossgate-gw/internal/repo"
)

// RoutingPrefix is the topic prefix of consume-data messages.
const RoutingPrefix = "Tcp.city"

// Message is the broker body of one uploaded transaction.
type Message struct {
	MachineID  string `json:"machineId"`
	MerchantID string `json:"merchantId"`
	MachineNO  string `json:"machineNo"`
	PsamNO     string `json:"psamNo"`
	Buffer     string `json:"buffer"`
}

var ErrInvalidMessage = errors.New("ingest: invalid consume-data message")

// NewMessage builds the broker body for an uploaded payload.
func NewMessage(merchantID, machineID, machineNO, psamNO string, payload []byte) Message {
	return Message{
		MachineID:  machineID,
		MerchantID: merchantID,
		MachineNO:  machineNO,
		PsamNO:     psamNO,
		Buffer:     strings.ToUpper(hex.EncodeToString(payload)),
	}
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// RoutingKey is Tcp.city.0000.{merchant}, with the third payload byte as a
// hex suffix when present.
func RoutingKey(merchantID string, payload []byte) string {
	key := fmt.Sprintf("%s.0000.%s", RoutingPrefix, merchantID)
	if len(payload) > 2 {
		key += fmt.Sprintf(".%02X", payload[2])
	}
	return key
}

// DecodeRecord turns a broker body into a row.
func DecodeRecord(body []byte, receivedAt time.Time) (repo.ConsumeData, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return repo.ConsumeData{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.MerchantID == "" {
		return repo.ConsumeData{}, fmt.Errorf("%w: merchant id is empty", ErrInvalidMessage)
	}
	if m.Buffer == "" {
		return repo.ConsumeData{}, fmt.Errorf("%w: buffer is empty", ErrInvalidMessage)
	}
	if _, err := hex.DecodeString(m.Buffer); err != nil {
		return repo.ConsumeData{}, fmt.Errorf("%w: buffer is not hex", ErrInvalidMessage)
	}
	return repo.ConsumeData{
		MachineID:   m.MachineID,
		MerchantID:  m.MerchantID,
		MachineNO:   m.MachineNO,
		PsamNO:      m.PsamNO,
		Buffer:      strings.ToUpper(m.Buffer),
		ReceiveTime: receivedAt,
	}, nil
}
