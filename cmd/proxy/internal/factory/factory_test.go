package factory

import (
	"context"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hasirciogluhq/xrelay/cmd/proxy/internal/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProxyFactoryWithoutProbe(t *testing.T) {
	cfg := &config.Config{MaxHeaderBytes: 1024, BufferSize: 512, ConnectTimeout: time.Second}
	p := NewProxyFactory(cfg, discard()).Create()

	if p.Probe != nil || p.Parser.ProbePrefix != nil {
		t.Fatalf("probe path must be disabled")
	}
	if p.Parser.MaxHeaderBytes != 1024 || p.Engine.BufferSize != 512 || p.Engine.ConnectTimeout != time.Second {
		t.Fatalf("config not applied: %+v %+v", p.Parser, p.Engine)
	}
}

func TestProxyFactoryWithProbe(t *testing.T) {
	cfg := &config.Config{ProbeEnabled: true, ProbePath: "/whoami", ProbeLookupURL: "http://127.0.0.1:1/"}
	p := NewProxyFactory(cfg, discard()).Create()

	if p.Probe == nil {
		t.Fatalf("probe responder missing")
	}
	if string(p.Parser.ProbePrefix) != "GET /whoami HTTP/1." {
		t.Fatalf("probe prefix = %q", p.Parser.ProbePrefix)
	}
}

func TestAccessFactoryStaticAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SAdd("peers", "192.0.2.10")

	cfg := &config.Config{
		AllowedSources:    "127.0.0.1",
		RedisAddr:         mr.Addr(),
		RedisAllowlistKey: "peers",
	}
	list, err := NewAccessFactory(cfg, discard()).Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, addr := range []string{"127.0.0.1", "192.0.2.10"} {
		if !list.Allowed(netip.MustParseAddr(addr)) {
			t.Fatalf("%s should be allowed", addr)
		}
	}
	if list.Allowed(netip.MustParseAddr("10.0.0.1")) {
		t.Fatalf("10.0.0.1 must be denied")
	}
}
