package proxy

import (
	"context"
	"net/netip"
	"time"

	"github.com/miekg/dns"

	"github.com/gemini-oss/dnshield/logging"
)

// Server is the UDP listener boundary: it owns the only place in this
// module that imports github.com/miekg/dns, translating between the
// library's dns.Msg/dns.ResponseWriter and the raw []byte wire format
// Flow/wire operate on. Grounded on server/dns.go's NewServer/Start,
// kept at this single boundary instead of spread across the request
// path the way the teacher's original handleRequest used dns.Msg
// end-to-end.
type Server struct {
	addr   string
	flow   *Flow
	dns    *dns.Server
	logger logging.Logger
}

// NewServer builds a Server listening on addr (e.g. "127.0.0.1:53") that
// dispatches every received datagram to flow.
func NewServer(addr string, flow *Flow, logger logging.Logger) *Server {
	s := &Server{addr: addr, flow: flow, logger: logging.OrNop(logger)}
	s.dns = &dns.Server{
		Addr:    addr,
		Net:     "udp",
		Handler: dns.HandlerFunc(s.handle),
	}
	return s
}

// Start blocks serving UDP until the server is shut down or a fatal
// listener error occurs.
func (s *Server) Start() error {
	s.logger.Info("proxy: listening", "addr", s.addr)
	return s.dns.ListenAndServe()
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	return s.dns.ShutdownContext(ctx)
}

// handle adapts one miekg/dns request into a Flow.Handle call, packing
// and unpacking raw wire bytes at this boundary only.
func (s *Server) handle(w dns.ResponseWriter, r *dns.Msg) {
	raw, err := r.Pack()
	if err != nil {
		s.logger.Warn("proxy: failed to pack incoming request", "err", err)
		return
	}

	source, err := netip.ParseAddrPort(w.RemoteAddr().String())
	if err != nil {
		s.logger.Warn("proxy: failed to parse remote addr", "remote", w.RemoteAddr().String(), "err", err)
		source = netip.AddrPort{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	respRaw := s.flow.Handle(ctx, raw, source)

	resp := new(dns.Msg)
	if err := resp.Unpack(respRaw); err != nil {
		s.logger.Warn("proxy: failed to unpack synthesized response", "err", err)
		dns.HandleFailed(w, r)
		return
	}
	if err := w.WriteMsg(resp); err != nil {
		s.logger.Warn("proxy: failed to write response", "err", err)
	}
}

// exchanger is the default Upstream, forwarding over UDP via
// github.com/miekg/dns's client (dns.Exchange), the same primitive
// server/dns.go's handleRequest uses for its upstream query.
type exchanger struct {
	client *dns.Client
}

// NewUpstream returns the default miekg/dns-backed Upstream.
func NewUpstream(timeout time.Duration) Upstream {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &exchanger{client: &dns.Client{Net: "udp", Timeout: timeout}}
}

func (e *exchanger) Exchange(ctx context.Context, raw []byte, addr string) ([]byte, error) {
	msg := new(dns.Msg)
	if err := msg.Unpack(raw); err != nil {
		return nil, err
	}
	resp, _, err := e.client.ExchangeContext(ctx, msg, addr)
	if err != nil {
		return nil, err
	}
	return resp.Pack()
}
