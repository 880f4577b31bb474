package handler

import (
	"context"
	"errors"
	"time"

	"github.com/alfianX/crossgate-gw/internal/increment"
	"github.com/alfianX/crossgate-gw/internal/publish"
	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/alfianX/crossgate-gw/internal/session"
	"github.com/alfianX/crossgate-gw/pkg/iso"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Request MTIs served by the gateway.
const (
	MTISignIn     = "0800"
	MTISignOut    = "0820"
	MTIFile       = "0840"
	MTIHeartbeat  = "0880"
	MTIUpload     = "0300"
	MTIFetchMsg   = "0500"
	MTIConfirmMsg = "0520"
	MTIIncrement  = "0540"
	MTIUnionPay   = "0400"

	ProcHeartbeat = "805001"
	ProcFile      = "806003"

	DefaultReadTimeout = 60 * time.Second
)

// DataPublisher forwards uploaded transaction payloads to the broker.
type DataPublisher interface {
	PublishData(ctx context.Context, key string, body []byte) error
}

type FileReader interface {
	ReadSegment(path string, offset int64, length int) ([]byte, error)
}

type IncrementBuilder interface {
	Build(ctx context.Context, req increment.Request) (envelope string, degraded bool)
}

type KeyBinder interface {
	BindKey(ctx context.Context, merchantID, machineID, lineID, busNO string) (*repo.UnionPayTerminalKey, error)
}

type MsgBoxStore interface {
	FirstUnread(ctx context.Context, terminalID string) (*repo.MsgBox, error)
	MarkRead(ctx context.Context, id int64, now time.Time) (bool, error)
	MarkReplied(ctx context.Context, terminalID string, id int64, code, content string, now time.Time) (bool, error)
}

type GormMsgBox struct {
	db *gorm.DB
}

func NewGormMsgBox(db *gorm.DB) *GormMsgBox {
	return &GormMsgBox{db: db}
}

func (m *GormMsgBox) FirstUnread(ctx context.Context, terminalID string) (*repo.MsgBox, error) {
	return repo.MsgBoxFirstUnread(ctx, m.db, terminalID)
}

func (m *GormMsgBox) MarkRead(ctx context.Context, id int64, now time.Time) (bool, error) {
	return repo.MsgBoxMarkRead(ctx, m.db, id, now)
}

func (m *GormMsgBox) MarkReplied(ctx context.Context, terminalID string, id int64, code, content string, now time.Time) (bool, error) {
	return repo.MsgBoxMarkReplied(ctx, m.db, terminalID, id, code, content, now)
}

// Options carries the collaborators of a Handler. Codec, Registry and Log
// are required; a nil collaborator makes its MTIs answer 0096.
type Options struct {
	Codec     *iso.Codec
	Registry  *session.Registry
	Events    *session.EventRecorder
	Conns     *Manager
	Source    publish.Source
	Files     FileReader
	MsgBox    MsgBoxStore
	Increment IncrementBuilder
	Keys      KeyBinder
	Data      DataPublisher

	ReadTimeout time.Duration
	Log         *logrus.Logger
	Now         func() time.Time
}

type Handler struct {
	codec    *iso.Codec
	registry *session.Registry
	events   *session.EventRecorder
	conns    *Manager
	source   publish.Source
	files    FileReader
	msgbox   MsgBoxStore
	inc      IncrementBuilder
	keys     KeyBinder
	data     DataPublisher

	dispatch    *Dispatcher
	readTimeout time.Duration
	Log         *logrus.Logger
	now         func() time.Time
}

func NewHandler(opts Options) (*Handler, error) {
	if opts.Codec == nil || opts.Registry == nil || opts.Log == nil {
		return nil, &ConfigurationError{Reason: "codec, registry and logger are required"}
	}
	h := &Handler{
		codec:       opts.Codec,
		registry:    opts.Registry,
		events:      opts.Events,
		conns:       opts.Conns,
		source:      opts.Source,
		files:       opts.Files,
		msgbox:      opts.MsgBox,
		inc:         opts.Increment,
		keys:        opts.Keys,
		data:        opts.Data,
		dispatch:    NewDispatcher(),
		readTimeout: opts.ReadTimeout,
		Log:         opts.Log,
		now:         opts.Now,
	}
	if h.conns == nil {
		h.conns = NewManager(opts.Log)
	}
	if h.readTimeout <= 0 {
		h.readTimeout = DefaultReadTimeout
	}
	if h.now == nil {
		h.now = time.Now
	}

	routes := []struct {
		mti string
		fn  HandlerFunc
	}{
		{MTISignIn, h.signIn},
		{MTISignOut, h.signOut},
		{MTIHeartbeat, h.heartbeat},
		{MTIFile, h.fileDownload},
		{MTIUpload, h.dataUpload},
		{MTIFetchMsg, h.fetchMessage},
		{MTIConfirmMsg, h.confirmMessage},
		{MTIIncrement, h.incrementDownload},
		{MTIUnionPay, h.unionPayKey},
	}
	for _, r := range routes {
		if err := h.dispatch.Register(r.mti, r.fn); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Handler) Conns() *Manager {
	return h.conns
}

// Handle runs one decoded frame through the dispatcher and always produces
// the response to send, or nil when the MTI has none.
func (h *Handler) Handle(ctx context.Context, c *Conn, req *iso.Frame) *iso.Frame {
	fn, ok := h.dispatch.Lookup(req.MTI)
	if !ok {
		h.Log.WithFields(logrus.Fields{"conn_id": c.ID, "mti": req.MTI}).Warn("handler -> unsupported MTI")
		return h.reject(req, invalid(iso.RCUnsupported, "unsupported message %s", req.MTI))
	}
	if req.MTI != MTISignIn && !c.SignedIn() {
		return h.reject(req, invalid(iso.RCNotSignedIn, "not signed in"))
	}

	resp, err := fn(ctx, c, req)
	if err == nil {
		return resp
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		h.Log.WithFields(logrus.Fields{
			"conn_id":     c.ID,
			"terminal_id": c.TerminalID(),
			"mti":         req.MTI,
		}).Warnf("handler -> %v", verr)
		return h.reject(req, verr)
	}
	h.Log.WithFields(logrus.Fields{
		"conn_id":     c.ID,
		"terminal_id": c.TerminalID(),
		"mti":         req.MTI,
	}).Errorf("handler -> %v", err)
	return h.reject(req, invalid(iso.RCInternal, "internal error"))
}

func (h *Handler) reject(req *iso.Frame, verr *ValidationError) *iso.Frame {
	resp := req.Response().SetString(iso.FieldResponseCode, verr.Code)
	if verr.Message != "" {
		msg := verr.Message
		if len(msg) > 99 {
			msg = msg[:99]
		}
		resp.SetString(iso.FieldResponseText, msg)
	}
	return echoMachine(resp, req)
}

func echoMachine(resp, req *iso.Frame) *iso.Frame {
	if machine := req.MachineID(); machine != "" {
		resp.SetString(iso.FieldMachineID, machine)
	}
	return resp
}

// status picks the header status byte for a response to c.
func (h *Handler) status(c *Conn) byte {
	id := c.TerminalID()
	if !c.SignedIn() || id == "" || h.registry.NeedsSign(id) {
		return iso.StatusNeedSignIn
	}
	if h.registry.Unread(id) > 0 {
		return iso.StatusUnreadMsgs
	}
	return iso.StatusNone
}

func (h *Handler) recordEvent(c *Conn, eventType, severity int, remark string) {
	if h.events == nil {
		return
	}
	h.events.Record(c.MerchantID(), c.TerminalID(), eventType, severity, remark, h.now())
}
