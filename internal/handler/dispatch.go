package handler

import (
	"context"
	"sort"

	"github.com/alfianX/crossgate-gw/pkg/iso"
)

// HandlerFunc serves one request frame. A nil frame with a nil error means
// the MTI has no response.
type HandlerFunc func(ctx context.Context, c *Conn, req *iso.Frame) (*iso.Frame, error)

// Dispatcher maps request MTIs to handlers. It is filled once at startup and
// only read afterwards.
type Dispatcher struct {
	routes map[string]HandlerFunc
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{routes: make(map[string]HandlerFunc)}
}

func (d *Dispatcher) Register(mti string, fn HandlerFunc) error {
	if len(mti) != 4 {
		return &ConfigurationError{MTI: mti, Reason: "MTI must be 4 digits"}
	}
	if iso.IsResponseMTI(mti) {
		return &ConfigurationError{MTI: mti, Reason: "cannot register a response MTI"}
	}
	if fn == nil {
		return &ConfigurationError{MTI: mti, Reason: "nil handler"}
	}
	if _, dup := d.routes[mti]; dup {
		return &ConfigurationError{MTI: mti, Reason: "registered twice"}
	}
	d.routes[mti] = fn
	return nil
}

func (d *Dispatcher) Lookup(mti string) (HandlerFunc, bool) {
	fn, ok := d.routes[mti]
	return fn, ok
}

// MTIs lists the registered request MTIs in order.
func (d *Dispatcher) MTIs() []string {
	out := make([]string, 0, len(d.routes))
	for mti := range d.routes {
		out = append(out, mti)
	}
	sort.Strings(out)
	return out
}
