package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/alfianX/crossgate-gw/internal/filestore"
	"github.com/alfianX/crossgate-gw/internal/increment"
	"github.com/alfianX/crossgate-gw/internal/ingest"
	"github.com/alfianX/crossgate-gw/internal/keybind"
	"github.com/alfianX/crossgate-gw/internal/repo"
	f "github.com/alfianX/crossgate-gw/pkg/function"
	"github.com/alfianX/crossgate-gw/pkg/iso"
	"github.com/alfianX/crossgate-gw/pkg/logger"
	"github.com/sirupsen/logrus"
)

var errNotConfigured = errors.New("collaborator not configured")

func (h *Handler) fileDownload(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error) {
	if h.source == nil || h.files == nil {
		return nil, fmt.Errorf("file download: %w", errNotConfigured)
	}
	protocol := req.ProtocolVersion()
	field := iso.FieldFileRequestV1
	if protocol >= iso.ProtocolV2 {
		field = iso.FieldFileRequestV2
	}
	raw, ok := req.Get(field)
	if !ok {
		return nil, invalid(iso.RCFormatError, "field %d missing", field)
	}
	fr, err := parseFileRequest(raw, protocol)
	if err != nil {
		return nil, invalid(iso.RCFormatError, "%v", err)
	}

	resp := echoMachine(req.Response().Stamp(h.now()).SetString(iso.FieldProcCode, ProcFile), req)
	fail := func(code, text string) (*iso.Frame, error) {
		return resp.SetString(iso.FieldResponseCode, code).SetString(iso.FieldResponseText, text), nil
	}

	merchant := c.MerchantID()
	log := h.Log.WithFields(logrus.Fields{
		"terminal_id": c.TerminalID(),
		"file_code":   fr.Code,
		"file_ver":    fr.Version,
		"offset":      fr.Offset,
	})
	pub, found, err := h.source.Lookup(ctx, merchant, fr.Code, fr.Version)
	if err != nil {
		log.Errorf("file download -> lookup: %v", err)
		return fail(iso.RCFileInternal, "internal error")
	}
	if !found {
		log.Warn("file download -> file not published")
		return fail(iso.RCFileNotFound, "file not found")
	}
	if fr.Offset >= int64(pub.Size) {
		log.Warnf("file download -> offset beyond size %d", pub.Size)
		return fail(iso.RCFileOffset, "offset out of range")
	}
	length := fr.Length
	if rest := int64(pub.Size) - fr.Offset; int64(length) > rest {
		length = int(rest)
	}

	segment, err := h.files.ReadSegment(pub.Path, fr.Offset, length)
	switch {
	case errors.Is(err, filestore.ErrNotFound), errors.Is(err, filestore.ErrSegmentMissing), errors.Is(err, filestore.ErrOffsetRange):
		log.Warnf("file download -> %v", err)
		return fail(iso.RCFileSegment, "segment missing")
	case err != nil:
		log.Errorf("file download -> %v", err)
		return fail(iso.RCFileInternal, "internal error")
	}

	resp.Ok().Set(iso.FieldFileSegment, segment).Set(field, raw).Set(iso.FieldMac, make([]byte, 8))

	remark := fmt.Sprintf("code=%s ver=%s path=%s publish=%d", fr.Code, fr.Version, pub.Path, pub.PublishID)
	if fr.Offset == 0 {
		h.recordEvent(c, repo.EventDownloadStart, repo.SeverityInfo, remark)
	}
	if fr.Offset+int64(len(segment)) >= int64(pub.Size) {
		h.recordEvent(c, repo.EventDownloadEnd, repo.SeverityInfo, remark)
	}
	return resp, nil
}

func (h *Handler) dataUpload(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error) {
	if h.data == nil {
		return nil, fmt.Errorf("data upload: %w", errNotConfigured)
	}
	payload, ok := req.Get(iso.FieldUpload)
	if !ok || len(payload) == 0 {
		return nil, invalid(iso.RCFormatError, "empty upload")
	}
	merchant := req.MerchantID()
	if merchant == "" {
		merchant = c.MerchantID()
	}

	msg := ingest.NewMessage(merchant, req.MachineID(), req.DeviceNO(), "", payload)
	body, err := msg.Encode()
	if err != nil {
		return nil, fmt.Errorf("data upload -> encode: %w", err)
	}
	key := ingest.RoutingKey(merchant, payload)
	if err := h.data.PublishData(ctx, key, body); err != nil {
		return nil, fmt.Errorf("data upload -> publish: %w", err)
	}
	h.Log.WithFields(logrus.Fields{"debug_tag": logger.TagMqOut, "routing_key": key}).Debugf("data upload -> %s", body)

	resp := req.Response().Ok()
	for _, id := range []int{iso.FieldTrace, iso.FieldUploadSeq} {
		if v, ok := req.Get(id); ok {
			resp.Set(id, v)
		}
	}
	return resp, nil
}

func (h *Handler) fetchMessage(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error) {
	if h.msgbox == nil {
		return nil, fmt.Errorf("fetch message: %w", errNotConfigured)
	}
	id := c.TerminalID()
	resp := echoMachine(req.Response().Ok().Stamp(h.now()).SetString(iso.FieldProcCode, ProcHeartbeat), req)

	box, err := h.msgbox.FirstUnread(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch message -> %w", err)
	}
	if box == nil {
		h.registry.ResetUnread(id)
		return resp.SetString(iso.FieldResponseCode, iso.RCNoMessage), nil
	}
	field, err := encodeMessage(box)
	if err != nil {
		return nil, fmt.Errorf("fetch message -> %w", err)
	}
	resp.Set(iso.FieldMessage, field)

	marked, err := h.msgbox.MarkRead(ctx, box.ID, h.now())
	if err != nil {
		h.Log.WithField("terminal_id", id).Errorf("fetch message -> mark %d read: %v", box.ID, err)
	} else if marked {
		h.registry.AddUnread(id, -1)
	}
	return resp, nil
}

func (h *Handler) confirmMessage(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error) {
	if h.msgbox == nil {
		return nil, fmt.Errorf("confirm message: %w", errNotConfigured)
	}
	raw, _ := req.Get(iso.FieldMessageConfirm)
	id := c.TerminalID()
	now := h.now()
	for _, mc := range parseConfirms(raw) {
		if _, err := h.msgbox.MarkReplied(ctx, id, mc.ID, mc.Code, mc.Content, now); err != nil {
			return nil, fmt.Errorf("confirm message -> mark %d replied: %w", mc.ID, err)
		}
	}
	return req.Response().Ok(), nil
}

func (h *Handler) incrementDownload(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error) {
	if h.inc == nil {
		return nil, fmt.Errorf("increment: %w", errNotConfigured)
	}
	ireq, err := increment.ParseRequest(c.MerchantID(), req.GetString(iso.FieldIncrementReq))
	if err != nil {
		return nil, invalid(iso.RCFormatError, "%v", err)
	}
	envelope, degraded := h.inc.Build(ctx, ireq)

	resp := echoMachine(req.Response().Ok(), req).Set(iso.FieldPayload, []byte(envelope))
	if degraded {
		resp.SetString(iso.FieldResponseCode, iso.RCIncrementDegraded)
	}
	return resp, nil
}

func (h *Handler) unionPayKey(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error) {
	if h.keys == nil {
		return nil, fmt.Errorf("union pay key: %w", errNotConfigured)
	}
	if mac, ok := req.Get(iso.FieldMac); ok {
		data, _ := req.MacData()
		if len(mac) < 4 || !f.CheckMac(data, mac[:4], f.MacKey(c.TerminalID())) {
			return nil, invalid(iso.RCMacError, "mac mismatch")
		}
	}
	key, err := h.keys.BindKey(ctx, c.MerchantID(), req.MachineID(), req.LineNO(), req.DeviceNO())
	if err != nil && !errors.Is(err, keybind.ErrNoKeyAvailable) {
		return nil, fmt.Errorf("union pay key -> %w", err)
	}
	if key == nil {
		h.Log.WithField("terminal_id", c.TerminalID()).Warn("union pay key -> no key available")
	}
	return echoMachine(req.Response().Ok(), req).Set(iso.FieldPayload, unionPayPayload(key)), nil
}
