package handler

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/alfianX/crossgate-gw/internal/repo"
	"github.com/alfianX/crossgate-gw/pkg/iso"
	"github.com/alfianX/crossgate-gw/pkg/logger"
	"github.com/sirupsen/logrus"
)

// ClientHandler serves one terminal socket until the peer leaves, the read
// deadline passes, the frame stream breaks or ctx ends.
func (h *Handler) ClientHandler(ctx context.Context, raw net.Conn) {
	c := newConn(raw, time.Now(), h.Log)
	h.conns.track(c)
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer func() {
		stop()
		h.disconnect(ctx, c)
	}()

	log := h.Log.WithFields(logrus.Fields{"conn_id": c.ID, "remote": c.Remote})
	log.Info("client handler -> connected")

	for {
		// socket timing runs on the wall clock, h.now only stamps the protocol
		_ = raw.SetReadDeadline(time.Now().Add(h.readTimeout))

		pkt, err := iso.ReadPacket(raw)
		if err != nil {
			h.readFailed(log, c, err)
			return
		}
		c.Touch(time.Now())
		if id := c.TerminalID(); id != "" {
			h.registry.Touch(id)
		}
		log.WithField("debug_tag", logger.TagTcpIn).Debugf("message request: %s", strings.ToUpper(hex.EncodeToString(pkt.Body)))

		req, err := h.codec.Decode(pkt.Body)
		if err != nil {
			log.Warnf("client handler -> %v, closing", err)
			return
		}
		if h.Log.IsLevelEnabled(logrus.DebugLevel) {
			log.WithField("debug_tag", logger.TagTcpIn).Debugf("message fields: %v", h.codec.Dump(req))
		}

		resp := h.Handle(ctx, c, req)
		if resp == nil {
			continue
		}
		if err := h.sendBack(c, resp); err != nil {
			var perr *iso.ProtocolError
			if errors.As(err, &perr) {
				log.Errorf("client handler -> encode %s: %v", resp.MTI, err)
				if err := h.sendBack(c, encodeFailed(resp)); err != nil {
					log.Warnf("client handler -> write %s reject: %v", resp.MTI, err)
					return
				}
				continue
			}
			log.Warnf("client handler -> write %s: %v", resp.MTI, err)
			return
		}
	}
}

// encodeFailed is the bare internal-error reply sent in place of a response
// the codec refused.
func encodeFailed(resp *iso.Frame) *iso.Frame {
	return iso.NewFrame(resp.MTI).SetString(iso.FieldResponseCode, iso.RCInternal)
}

func (h *Handler) readFailed(log *logrus.Entry, c *Conn, err error) {
	var netErr net.Error
	var perr *iso.ProtocolError
	switch {
	case errors.Is(err, io.EOF):
		log.Info("client handler -> peer closed")
	case c.State() == StateClosed || errors.Is(err, net.ErrClosed):
		log.Info("client handler -> connection closed")
	case errors.As(err, &netErr) && netErr.Timeout():
		log.Info("client handler -> read timeout")
	case errors.As(err, &perr):
		log.Warnf("client handler -> %v, closing", err)
	default:
		log.Errorf("client handler -> read: %v", err)
	}
}

func (h *Handler) sendBack(c *Conn, resp *iso.Frame) error {
	body, err := h.codec.Encode(resp)
	if err != nil {
		return err
	}
	packet, err := iso.BuildPacket(iso.ResponseHeader(h.status(c)), body)
	if err != nil {
		return err
	}
	if err := c.Write(packet); err != nil {
		return err
	}
	h.Log.WithFields(logrus.Fields{"conn_id": c.ID, "debug_tag": logger.TagTcpOut}).
		Debugf("message response: %s", strings.ToUpper(hex.EncodeToString(packet)))
	return nil
}

// disconnect releases the terminal unless a newer connection took it over.
func (h *Handler) disconnect(ctx context.Context, c *Conn) {
	_ = c.Close()
	h.conns.untrack(c)

	id := c.TerminalID()
	if !h.conns.Release(id, c) {
		return
	}
	h.registry.SignOut(context.WithoutCancel(ctx), id)
	h.recordEvent(c, repo.EventConnClosed, repo.SeverityInfo, "connection closed from "+c.Remote)
}
