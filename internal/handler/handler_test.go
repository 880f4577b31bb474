package handler

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alfianX/crossgate-gw/internal/filestore"
	"github.com/alfianX/crossgate-gw/internal/increment"
	"github.com/alfianX/crossgate-gw/internal/keybind"
	"github.com/alfianX/crossgate-gw/internal/publish"
	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/alfianX/crossgate-gw/internal/session"
	f "github.com/alfianX/crossgate-gw/pkg/function"
	"github.com/alfianX/crossgate-gw/pkg/iso"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testMerchant = "00000001"
	testMachine  = "00001234"
	testType     = "BUS"
	testTerminal = testType + "-" + testMachine
)

const publishYAML = `
publishes:
  - merchant: "00000001"
    code: A1
    version: "0002"
    crc: 1234ABCD
    size: 20
    path: A1/0002.bin
  - merchant: "00000001"
    code: B2
    version: "0001"
    crc: "00000001"
    size: 10
    path: B2/missing.bin
`

var fileA1 = []byte("0123456789ABCDEFGHIJ")

type fakePublisher struct {
	mu     sync.Mutex
	keys   []string
	bodies [][]byte
	err    error
}

func (p *fakePublisher) PublishData(_ context.Context, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.bodies = append(p.bodies, body)
	return nil
}

type harness struct {
	h      *Handler
	db     *gorm.DB
	reg    *session.Registry
	events *session.EventRecorder
	pub   *fakePublisher
	codec *iso.Codec
	now   time.Time
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessAt(t, time.Date(2025, 3, 4, 10, 30, 0, 0, time.Local))
}

// newHarnessAt pins the protocol clock of the handler and registry to now.
func newHarnessAt(t *testing.T, now time.Time) *harness {
	t.Helper()
	log := quietLogger()

	db, err := repo.Open(repo.DriverSQLite, filepath.Join(t.TempDir(), "gw.db"), false)
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(db))
	t.Cleanup(func() { _ = repo.Close(db) })

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "A1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "A1", "0002.bin"), fileA1, 0o644))

	src, err := publish.ParseStatic([]byte(publishYAML))
	require.NoError(t, err)

	schema, err := iso.DefaultSchema()
	require.NoError(t, err)
	codec := iso.NewCodec(schema)

	store := session.NewGormStore(db)
	events := session.NewEventRecorder(store, log)
	reg := session.NewRegistry(store, src, log, session.WithClock(func() time.Time { return now }), session.WithEvents(events))
	pub := &fakePublisher{}

	h, err := NewHandler(Options{
		Codec:     codec,
		Registry:  reg,
		Events:    events,
		Source:    src,
		Files:     filestore.New(root),
		MsgBox:    NewGormMsgBox(db),
		Increment: increment.NewService(increment.NewGormLog(db), log),
		Keys:      keybind.NewService(keybind.NewGormPool(db), log),
		Data:      pub,
		Log:       log,
		Now:       func() time.Time { return now },
	})
	require.NoError(t, err)
	return &harness{h: h, db: db, reg: reg, events: events, pub: pub, codec: codec, now: now}
}

// dial serves one end of a pipe and returns the other end. done closes when
// the server side returned.
func (hs *harness) dial(t *testing.T) (net.Conn, <-chan struct{}) {
	t.Helper()
	server, client := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		hs.h.ClientHandler(context.Background(), server)
	}()
	t.Cleanup(func() {
		_ = client.Close()
		<-done
	})
	require.NoError(t, client.SetDeadline(time.Now().Add(5*time.Second)))
	return client, done
}

func (hs *harness) send(t *testing.T, conn net.Conn, req *iso.Frame) {
	t.Helper()
	body, err := hs.codec.Encode(req)
	require.NoError(t, err)
	require.NoError(t, iso.WritePacket(conn, iso.ResponseHeader(iso.StatusNone), body))
}

func (hs *harness) roundTrip(t *testing.T, conn net.Conn, req *iso.Frame) (byte, *iso.Frame) {
	t.Helper()
	hs.send(t, conn, req)
	pkt, err := iso.ReadPacket(conn)
	require.NoError(t, err)
	resp, err := hs.codec.Decode(pkt.Body)
	require.NoError(t, err)
	return pkt.Header.Status(), resp
}

func signInFrame(files []byte) *iso.Frame {
	req := iso.NewFrame(MTISignIn).
		SetString(iso.FieldTerminalType, testType).
		SetString(iso.FieldMachineID, testMachine).
		SetString(iso.FieldMerchantID, testMerchant).
		SetString(iso.FieldLineNO, "L01").
		SetString(iso.FieldDeviceNO, "D01")
	if files != nil {
		req.Set(iso.FieldClientFiles, files)
	}
	return req
}

func heartbeatFrame() *iso.Frame {
	return iso.NewFrame(MTIHeartbeat).
		SetString(iso.FieldTerminalType, testType).
		SetString(iso.FieldMachineID, testMachine)
}

func (hs *harness) signIn(t *testing.T, conn net.Conn) *iso.Frame {
	t.Helper()
	_, resp := hs.roundTrip(t, conn, signInFrame(nil))
	require.Equal(t, iso.RCOk, resp.ResponseCode())
	return resp
}

func TestDispatcherRegister(t *testing.T) {
	d := NewDispatcher()
	noop := func(context.Context, *Conn, *iso.Frame) (*iso.Frame, error) { return nil, nil }

	require.NoError(t, d.Register("0800", noop))
	require.NoError(t, d.Register("0300", noop))

	var cerr *ConfigurationError
	assert.ErrorAs(t, d.Register("0800", noop), &cerr)
	assert.Equal(t, "0800", cerr.MTI)
	assert.ErrorAs(t, d.Register("0810", noop), &cerr, "response MTI")
	assert.ErrorAs(t, d.Register("080", noop), &cerr)
	assert.ErrorAs(t, d.Register("0500", nil), &cerr)

	assert.Equal(t, []string{"0300", "0800"}, d.MTIs())
	_, ok := d.Lookup("0880")
	assert.False(t, ok)
}

func TestNewHandlerRequiresCollaborators(t *testing.T) {
	_, err := NewHandler(Options{Log: quietLogger()})
	var cerr *ConfigurationError
	assert.ErrorAs(t, err, &cerr)
}

func TestRequestBeforeSignIn(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)

	status, resp := hs.roundTrip(t, conn, heartbeatFrame())
	assert.Equal(t, "0890", resp.MTI)
	assert.Equal(t, iso.RCNotSignedIn, resp.ResponseCode())
	assert.Equal(t, iso.StatusNeedSignIn, status)
	assert.Equal(t, testMachine, resp.MachineID())

	// the connection is still usable
	hs.signIn(t, conn)
}

func TestUnsupportedMTIKeepsConnection(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	_, resp := hs.roundTrip(t, conn, iso.NewFrame("0600").SetString(iso.FieldMachineID, testMachine))
	assert.Equal(t, "0610", resp.MTI)
	assert.Equal(t, iso.RCUnsupported, resp.ResponseCode())
	assert.Contains(t, resp.GetString(iso.FieldResponseText), "0600")

	_, resp = hs.roundTrip(t, conn, heartbeatFrame())
	assert.Equal(t, iso.RCOk, resp.ResponseCode())
}

func TestSignIn(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)

	status, resp := hs.roundTrip(t, conn, signInFrame([]byte{'A', '1', 0, 0x00, 0x01}))
	assert.Equal(t, "0810", resp.MTI)
	assert.Equal(t, iso.RCOk, resp.ResponseCode())
	assert.Equal(t, iso.StatusNone, status)

	token, _ := resp.Get(iso.FieldToken)
	assert.Equal(t, f.SessionToken(testTerminal, hs.now), token)
	macKey, _ := resp.Get(iso.FieldMacKey)
	assert.Equal(t, f.MacKey(testTerminal), macKey)
	assert.Equal(t, testMachine, resp.MachineID())
	assert.Equal(t, testMerchant, resp.MerchantID())
	assert.Equal(t, "20250304", resp.GetString(iso.FieldLocalDate))
	assert.False(t, resp.Has(iso.FieldExpectedFiles), "first sign in carries no expected files")

	s, ok := hs.reg.Get(testTerminal)
	require.True(t, ok)
	assert.True(t, s.Active())
	assert.Equal(t, "0001", s.FileVersions["A1"].Current)
	assert.Equal(t, "0002", s.FileVersions["A1"].Expected)

	rec, err := repo.TerminalGet(context.Background(), hs.db, testTerminal)
	require.NoError(t, err)
	require.NotNil(t, rec)
}

func TestSignInAgainReplacesConnection(t *testing.T) {
	hs := newHarness(t)
	first, firstDone := hs.dial(t)
	hs.signIn(t, first)

	second, _ := hs.dial(t)
	_, resp := hs.roundTrip(t, second, signInFrame([]byte{'A', '1', 0, 0x00, 0x01}))
	require.Equal(t, iso.RCOk, resp.ResponseCode())

	raw, ok := resp.Get(iso.FieldExpectedFiles)
	require.True(t, ok, "known terminal gets its outdated files")
	assert.Equal(t, []byte{'A', '1', 0, 0x00, 0x02, 0, 0, 0, 20, 0x12, 0x34, 0xAB, 0xCD}, raw[:13])

	_, err := iso.ReadPacket(first)
	assert.Error(t, err, "older connection is closed")
	<-firstDone

	s, _ := hs.reg.Get(testTerminal)
	assert.True(t, s.Active(), "closing the replaced connection keeps the terminal signed in")

	st := hs.h.Conns().Stats()
	assert.Equal(t, 1, st.SignedIn)
	assert.EqualValues(t, 1, st.Replaced)
	assert.Equal(t, 1, st.ConnectionsByMerchant[testMerchant])

	_, resp = hs.roundTrip(t, second, heartbeatFrame())
	assert.Equal(t, iso.RCOk, resp.ResponseCode())
}

func TestHeartbeat(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	status, resp := hs.roundTrip(t, conn, heartbeatFrame())
	assert.Equal(t, "0890", resp.MTI)
	assert.Equal(t, iso.RCOk, resp.ResponseCode())
	assert.Equal(t, ProcHeartbeat, resp.GetString(iso.FieldProcCode))
	assert.Equal(t, testMachine, resp.MachineID())
	assert.Equal(t, iso.StatusNone, status)

	hs.reg.MarkNeedsSign(testTerminal)
	status, _ = hs.roundTrip(t, conn, heartbeatFrame())
	assert.Equal(t, iso.StatusNeedSignIn, status)
}

func TestHeartbeatReportsVersions(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	_, resp := hs.roundTrip(t, conn, heartbeatFrame().Set(iso.FieldClientFiles, []byte{'A', '1', 0, 0x00, 0x02}))
	require.Equal(t, iso.RCOk, resp.ResponseCode())

	s, _ := hs.reg.Get(testTerminal)
	assert.Equal(t, "0002", s.FileVersions["A1"].Current)
	assert.Empty(t, hs.reg.QueryExpectedVersions(testTerminal)["A1"].Expected)
}

func TestSignOut(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	hs.send(t, conn, iso.NewFrame(MTISignOut).SetString(iso.FieldMachineID, testMachine))

	// 0820 has no response; the next frame proves it was handled
	_, resp := hs.roundTrip(t, conn, heartbeatFrame())
	assert.Equal(t, iso.RCNotSignedIn, resp.ResponseCode())

	s, _ := hs.reg.Get(testTerminal)
	assert.False(t, s.Active())
	assert.Equal(t, 0, hs.h.Conns().Stats().SignedIn)

	require.NoError(t, hs.events.Flush(context.Background()))
	rows, err := repo.TerminalEventFind(context.Background(), hs.db, testTerminal)
	require.NoError(t, err)
	signOuts := 0
	for _, ev := range rows {
		if ev.EventType == repo.EventSignOut {
			signOuts++
		}
	}
	assert.Equal(t, 1, signOuts)
}

func TestReadDeadlineIgnoresProtocolClock(t *testing.T) {
	hs := newHarnessAt(t, time.Date(1999, 12, 31, 23, 59, 0, 0, time.Local))
	conn, _ := hs.dial(t)

	resp := hs.signIn(t, conn)
	assert.Equal(t, "19991231", resp.GetString(iso.FieldLocalDate))

	_, resp = hs.roundTrip(t, conn, heartbeatFrame())
	assert.Equal(t, iso.RCOk, resp.ResponseCode())
	c, ok := hs.h.Conns().Lookup(testTerminal)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), c.LastActivity(), time.Minute, "idle tracking uses the wall clock")
}

func TestDisconnectSignsOut(t *testing.T) {
	hs := newHarness(t)
	conn, done := hs.dial(t)
	hs.signIn(t, conn)

	require.NoError(t, conn.Close())
	<-done

	s, _ := hs.reg.Get(testTerminal)
	assert.False(t, s.Active())
	assert.EqualValues(t, 0, hs.h.Conns().Stats().Open)
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	hs := newHarness(t)
	conn, done := hs.dial(t)

	require.NoError(t, iso.WritePacket(conn, iso.ResponseHeader(iso.StatusNone), []byte{0x08, 0x00, 0xFF}))
	_, err := iso.ReadPacket(conn)
	assert.Error(t, err)
	<-done
}

func TestDataUpload(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	req := iso.NewFrame(MTIUpload).
		SetString(iso.FieldMachineID, testMachine).
		SetString(iso.FieldMerchantID, testMerchant).
		SetString(iso.FieldTrace, "000123").
		SetString(iso.FieldUploadSeq, "0007").
		Set(iso.FieldUpload, []byte{0x01, 0x02, 0x03})
	_, resp := hs.roundTrip(t, conn, req)
	assert.Equal(t, "0310", resp.MTI)
	assert.Equal(t, iso.RCOk, resp.ResponseCode())
	assert.Equal(t, "000123", resp.GetString(iso.FieldTrace))
	assert.Equal(t, "0007", resp.GetString(iso.FieldUploadSeq))

	require.Len(t, hs.pub.keys, 1)
	assert.Equal(t, "Tcp.city.0000.00000001.03", hs.pub.keys[0])
	assert.Contains(t, string(hs.pub.bodies[0]), "010203")

	hs.pub.mu.Lock()
	hs.pub.err = errors.New("broker down")
	hs.pub.mu.Unlock()
	_, resp = hs.roundTrip(t, conn, req)
	assert.Equal(t, iso.RCInternal, resp.ResponseCode())
}

func fileRequestField(version []byte, offset, length byte) []byte {
	out := append([]byte{'A', '1', 0}, version...)
	return append(out, 0, 0, 0, offset, 0, 0, 0, length)
}

func TestFileDownload(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	download := func(field []byte) *iso.Frame {
		req := iso.NewFrame(MTIFile).
			SetString(iso.FieldMachineID, testMachine).
			Set(iso.FieldFileRequestV1, field)
		_, resp := hs.roundTrip(t, conn, req)
		assert.Equal(t, "0850", resp.MTI)
		return resp
	}

	field := fileRequestField([]byte{0x00, 0x02}, 0, 8)
	resp := download(field)
	require.Equal(t, iso.RCOk, resp.ResponseCode())
	segment, _ := resp.Get(iso.FieldFileSegment)
	assert.Equal(t, fileA1[:8], segment)
	echoed, _ := resp.Get(iso.FieldFileRequestV1)
	assert.Equal(t, field, echoed)
	assert.Equal(t, ProcFile, resp.GetString(iso.FieldProcCode))
	mac, _ := resp.Get(iso.FieldMac)
	assert.Equal(t, make([]byte, 8), mac)

	resp = download(fileRequestField([]byte{0x00, 0x02}, 16, 100))
	require.Equal(t, iso.RCOk, resp.ResponseCode())
	segment, _ = resp.Get(iso.FieldFileSegment)
	assert.Equal(t, fileA1[16:], segment, "length is clamped to the file size")

	assert.Equal(t, iso.RCFileNotFound, download(fileRequestField([]byte{0x00, 0x09}, 0, 8)).ResponseCode())
	assert.Equal(t, iso.RCFileOffset, download(fileRequestField([]byte{0x00, 0x02}, 20, 8)).ResponseCode())

	missing := append([]byte{'B', '2', 0, 0x00, 0x01}, 0, 0, 0, 0, 0, 0, 0, 4)
	assert.Equal(t, iso.RCFileSegment, download(missing).ResponseCode())

	_, resp = hs.roundTrip(t, conn, iso.NewFrame(MTIFile).Set(iso.FieldFileRequestV1, []byte{'A'}))
	assert.Equal(t, iso.RCFormatError, resp.ResponseCode())
}

func TestFetchAndConfirmMessage(t *testing.T) {
	hs := newHarness(t)
	ctx := context.Background()
	boxes, err := repo.MsgBoxSend(ctx, hs.db, &repo.MsgContent{
		MerchantID: testMerchant,
		MsgTypeID:  "0001",
		CodeType:   repo.MsgCodeASCII,
		Content:    "HELLO",
	}, []string{testTerminal}, hs.now)
	require.NoError(t, err)
	require.Len(t, boxes, 1)
	hs.reg.SetUnread(map[string]int{testTerminal: 1})

	conn, _ := hs.dial(t)
	status, _ := hs.roundTrip(t, conn, signInFrame(nil))
	assert.Equal(t, iso.StatusUnreadMsgs, status)

	fetch := iso.NewFrame(MTIFetchMsg).SetString(iso.FieldMachineID, testMachine)
	status, resp := hs.roundTrip(t, conn, fetch)
	require.Equal(t, iso.RCOk, resp.ResponseCode())
	msg, _ := resp.Get(iso.FieldMessage)
	id := byte(boxes[0].ID)
	assert.Equal(t, []byte{0x00, 0x01, 0, 0, 0, id, 'H', 'E', 'L', 'L', 'O'}, msg)
	assert.Equal(t, iso.StatusNone, status)
	assert.Equal(t, 0, hs.reg.Unread(testTerminal))

	_, resp = hs.roundTrip(t, conn, fetch)
	assert.Equal(t, iso.RCNoMessage, resp.ResponseCode())

	confirm := iso.NewFrame(MTIConfirmMsg).Set(iso.FieldMessageConfirm, []byte{0x00, 0x09, 0x00, 0x01, 0, 0, 0, id, 0x90, 0x00, 0xAB})
	_, resp = hs.roundTrip(t, conn, confirm)
	assert.Equal(t, "0530", resp.MTI)
	assert.Equal(t, iso.RCOk, resp.ResponseCode())

	var box repo.MsgBox
	require.NoError(t, hs.db.First(&box, boxes[0].ID).Error)
	assert.Equal(t, repo.MsgStatusReplied, box.Status)
	assert.Equal(t, "9000", box.ReplyCode)
	assert.Equal(t, "AB", box.ReplyContent)
}

func TestIncrementDownload(t *testing.T) {
	hs := newHarness(t)
	require.NoError(t, repo.IncrementAppend(context.Background(), hs.db,
		repo.IncrementContent{MerchantID: testMerchant, IncrementType: "A001", SerialNum: 11, Content: "X"},
		repo.IncrementContent{MerchantID: testMerchant, IncrementType: "A001", SerialNum: 12, Content: "Y"},
	))
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	req := iso.NewFrame(MTIIncrement).
		SetString(iso.FieldMachineID, testMachine).
		SetString(iso.FieldIncrementReq, "A0010000000A0010")
	_, resp := hs.roundTrip(t, conn, req)
	assert.Equal(t, "0550", resp.MTI)
	assert.Equal(t, iso.RCOk, resp.ResponseCode())
	payload, _ := resp.Get(iso.FieldPayload)
	assert.Equal(t, "A001"+"0000000C"+"0000000C"+"00000002"+"XY", string(payload))

	_, resp = hs.roundTrip(t, conn, req.SetString(iso.FieldIncrementReq, "A001"))
	assert.Equal(t, iso.RCFormatError, resp.ResponseCode())
}

func TestUnionPayKey(t *testing.T) {
	hs := newHarness(t)
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	req := iso.NewFrame(MTIUnionPay).
		SetString(iso.FieldMachineID, testMachine).
		SetString(iso.FieldLineNO, "L01").
		SetString(iso.FieldDeviceNO, "D01")
	_, resp := hs.roundTrip(t, conn, req)
	assert.Equal(t, "0410", resp.MTI)
	payload, _ := resp.Get(iso.FieldPayload)
	assert.Equal(t, []byte{0xB0, 0x01}, payload, "no key in the pool")

	require.NoError(t, hs.db.Create(&repo.UnionPayTerminalKey{
		MerchantID:   testMerchant,
		UPMerchantID: "898000000000001",
		UPTerminalID: "T0000001",
		UPKey:        "00112233",
	}).Error)

	_, resp = hs.roundTrip(t, conn, req)
	payload, _ = resp.Get(iso.FieldPayload)
	want := append([]byte("898000000000001T0000001"), 0x00, 0x11, 0x22, 0x33, 0x90, 0x00)
	assert.Equal(t, want, payload)

	_, resp = hs.roundTrip(t, conn, req)
	again, _ := resp.Get(iso.FieldPayload)
	assert.Equal(t, want, again, "binding is stable")
}

func TestUnionPayKeyMac(t *testing.T) {
	hs := newHarness(t)
	require.NoError(t, hs.db.Create(&repo.UnionPayTerminalKey{
		MerchantID:   testMerchant,
		UPMerchantID: "898000000000001",
		UPTerminalID: "T0000001",
		UPKey:        "00112233",
	}).Error)
	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	signed := func(corrupt bool) *iso.Frame {
		req := iso.NewFrame(MTIUnionPay).
			SetString(iso.FieldMachineID, testMachine).
			SetString(iso.FieldLineNO, "L01").
			SetString(iso.FieldDeviceNO, "D01").
			Set(iso.FieldMac, make([]byte, 8))
		body, err := hs.codec.Encode(req)
		require.NoError(t, err)
		mac, err := f.GetMac(body[:len(body)-8], f.MacKey(testTerminal))
		require.NoError(t, err)
		if corrupt {
			mac[0] ^= 0xFF
		}
		return req.Set(iso.FieldMac, append(append([]byte(nil), mac...), 0, 0, 0, 0))
	}

	t.Run("Valid", func(t *testing.T) {
		_, resp := hs.roundTrip(t, conn, signed(false))
		assert.Equal(t, iso.RCOk, resp.ResponseCode())
		payload, _ := resp.Get(iso.FieldPayload)
		assert.Equal(t, append([]byte("898000000000001T0000001"), 0x00, 0x11, 0x22, 0x33, 0x90, 0x00), payload)
	})

	t.Run("Mismatch", func(t *testing.T) {
		_, resp := hs.roundTrip(t, conn, signed(true))
		assert.Equal(t, "0410", resp.MTI)
		assert.Equal(t, iso.RCMacError, resp.ResponseCode())
		assert.False(t, resp.Has(iso.FieldPayload))
	})
}

func TestUnencodableResponseIsAnswered(t *testing.T) {
	hs := newHarness(t)
	_, err := repo.MsgBoxSend(context.Background(), hs.db, &repo.MsgContent{
		MerchantID: testMerchant,
		MsgTypeID:  "0001",
		CodeType:   repo.MsgCodeASCII,
		Content:    strings.Repeat("A", 1200),
	}, []string{testTerminal}, hs.now)
	require.NoError(t, err)

	conn, _ := hs.dial(t)
	hs.signIn(t, conn)

	_, resp := hs.roundTrip(t, conn, iso.NewFrame(MTIFetchMsg).SetString(iso.FieldMachineID, testMachine))
	assert.Equal(t, "0510", resp.MTI)
	assert.Equal(t, iso.RCInternal, resp.ResponseCode())

	_, resp = hs.roundTrip(t, conn, heartbeatFrame())
	assert.Equal(t, iso.RCOk, resp.ResponseCode(), "connection stays usable")
}

func TestSweepIdle(t *testing.T) {
	log := quietLogger()
	m := NewManager(log)
	start := time.Date(2025, 3, 4, 10, 0, 0, 0, time.Local)

	busyServer, busyClient := net.Pipe()
	idleServer, idleClient := net.Pipe()
	defer busyClient.Close()
	defer idleClient.Close()

	busy := newConn(busyServer, start, log)
	idle := newConn(idleServer, start, log)
	m.track(busy)
	m.track(idle)
	require.NoError(t, idle.bind(context.Background(), "T-1", testMerchant))
	m.Bind("T-1", idle)

	busy.Touch(start.Add(50 * time.Second))
	assert.Equal(t, 1, m.SweepIdle(start.Add(60*time.Second), 30*time.Second))
	assert.Equal(t, StateClosed, idle.State())
	assert.Equal(t, StateConnected, busy.State())
	assert.ErrorIs(t, idle.Write([]byte{1}), ErrConnClosed)

	// the read loop owns untracking, the binding is released by it
	assert.True(t, m.Release("T-1", idle))
	assert.False(t, m.Release("T-1", idle))
	assert.EqualValues(t, 1, m.Stats().IdleClosed)
}

func TestConnStates(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	c := newConn(server, time.Now(), quietLogger())
	ctx := context.Background()

	assert.Equal(t, StateConnected, c.State())
	require.NoError(t, c.bind(ctx, "T-1", testMerchant))
	require.NoError(t, c.bind(ctx, "T-2", testMerchant), "sign in again stays signed in")
	assert.Equal(t, "T-2", c.TerminalID())
	require.NoError(t, c.unbind(ctx))
	assert.False(t, c.SignedIn())

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.bind(ctx, "T-1", testMerchant), ErrConnClosed)
}
