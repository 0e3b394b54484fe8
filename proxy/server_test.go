package proxy

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/gemini-oss/dnshield/logging"
	"github.com/gemini-oss/dnshield/rules"
)

// fakeResponseWriter implements dns.ResponseWriter without binding a
// socket, capturing whatever message handle() writes back.
type fakeResponseWriter struct {
	remote  net.Addr
	written *dns.Msg
}

func (f *fakeResponseWriter) LocalAddr() net.Addr         { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (f *fakeResponseWriter) RemoteAddr() net.Addr        { return f.remote }
func (f *fakeResponseWriter) WriteMsg(m *dns.Msg) error   { f.written = m; return nil }
func (f *fakeResponseWriter) Write(b []byte) (int, error) { return len(b), nil }
func (f *fakeResponseWriter) Close() error                { return nil }
func (f *fakeResponseWriter) TsigStatus() error           { return nil }
func (f *fakeResponseWriter) TsigTimersOnly(bool)         {}
func (f *fakeResponseWriter) Hijack()                     {}

func TestServer_HandleTranslatesBlockedQuery(t *testing.T) {
	db := &fakeRuleDB{candidates: []*rules.Rule{
		{Domain: "ads.example.com", Type: rules.Exact, Action: rules.Block},
	}}
	flow, _ := newTestFlow(t, db, &fakeUpstream{})
	srv := NewServer("127.0.0.1:0", flow, logging.OrNop(nil))

	req := new(dns.Msg)
	req.SetQuestion("ads.example.com.", dns.TypeA)

	w := &fakeResponseWriter{remote: &net.UDPAddr{IP: net.ParseIP("192.168.1.10"), Port: 5353}}
	srv.handle(w, req)

	require.NotNil(t, w.written)
	require.Equal(t, req.Id, w.written.Id)
	require.Len(t, w.written.Answer, 1)
	a, ok := w.written.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "127.0.0.1", a.A.String())
}

func TestServer_HandleUnparsableRemoteAddrFallsBackGracefully(t *testing.T) {
	flow, _ := newTestFlow(t, &fakeRuleDB{}, &fakeUpstream{})
	srv := NewServer("127.0.0.1:0", flow, logging.OrNop(nil))

	req := new(dns.Msg)
	req.SetQuestion("example.com.", dns.TypeA)

	w := &fakeResponseWriter{remote: &net.UnixAddr{Name: "not-an-ip-port"}}
	require.NotPanics(t, func() { srv.handle(w, req) })
	require.NotNil(t, w.written)
}
