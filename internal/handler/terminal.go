package handler

import (
	"context"
	"encoding/hex"

	"github.com/alfianX/crossgate-gw/internal/session"
	f "github.com/alfianX/crossgate-gw/pkg/function"
	"github.com/alfianX/crossgate-gw/pkg/iso"
)

const connectionProtocol = "TCP"

func (h *Handler) signIn(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error) {
	id := req.TerminalID()
	if id == "" {
		return nil, invalid(iso.RCFormatError, "machine id missing")
	}
	protocol := req.ProtocolVersion()
	now := h.now()
	token := f.SessionToken(id, now)

	data := session.SignInData{
		ID:                 id,
		MerchantID:         req.MerchantID(),
		MachineID:          req.MachineID(),
		DeviceNO:           req.DeviceNO(),
		LineNO:             req.LineNO(),
		TerminalType:       req.TerminalType(),
		ConnectionProtocol: connectionProtocol,
		EndPoint:           c.Remote,
		Token:              hex.EncodeToString(token),
	}
	if raw, ok := req.Get(iso.FieldClientFiles); ok {
		data.ClientVersions = parseClientFiles(raw, protocol)
	}
	if raw, ok := req.Get(iso.FieldProperties); ok {
		data.Properties = parseProperties(raw)
	}

	// the same socket signing in as another terminal gives up the old one
	if prev := c.TerminalID(); prev != "" && prev != id && h.conns.Release(prev, c) {
		h.registry.SignOut(ctx, prev)
	}

	_, existed := h.registry.Get(id)
	if _, err := h.registry.SignIn(ctx, data); err != nil {
		return nil, err
	}
	if err := c.bind(ctx, id, data.MerchantID); err != nil {
		return nil, err
	}
	h.conns.Bind(id, c)

	resp := req.Response().Ok().Stamp(now).
		Set(iso.FieldToken, token).
		Set(iso.FieldMacKey, f.MacKey(id)).
		SetString(iso.FieldMachineID, data.MachineID).
		SetString(iso.FieldMerchantID, data.MerchantID)
	if existed {
		if exp := h.registry.QueryExpectedVersions(id); len(exp) > 0 {
			resp.Set(iso.FieldExpectedFiles, encodeExpected(exp, protocol))
		}
	}
	return resp, nil
}

// signOut has no response frame.
func (h *Handler) signOut(ctx context.Context, c *Conn, _ *iso.Frame) (*iso.Frame, error) {
	id := c.TerminalID()
	if h.conns.Release(id, c) {
		h.registry.SignOut(ctx, id)
	}
	return nil, c.unbind(ctx)
}

func (h *Handler) heartbeat(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error) {
	id := c.TerminalID()
	var rep session.Report
	if raw, ok := req.Get(iso.FieldClientFiles); ok {
		rep.ClientVersions = parseClientFiles(raw, req.ProtocolVersion())
	}
	if raw, ok := req.Get(iso.FieldProperties); ok {
		rep.Properties = parseProperties(raw)
	}
	if _, found := h.registry.Heartbeat(ctx, id, rep); !found {
		h.registry.MarkNeedsSign(id)
		return nil, invalid(iso.RCNotSignedIn, "unknown terminal %s", id)
	}

	resp := req.Response().Ok().Stamp(h.now()).SetString(iso.FieldProcCode, ProcHeartbeat)
	return echoMachine(resp, req), nil
}
