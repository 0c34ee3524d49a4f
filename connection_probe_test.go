package sqlbridge

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

// closedPort returns an address on the loopback interface that had a
// listener a moment ago and has none now, so dials fail fast.
func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	if err := ln.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func TestProbeTCP_Reachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	lat, err := ProbeTCP(context.Background(), ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("ProbeTCP: %v", err)
	}
	if lat < 0 {
		t.Fatalf("negative dial latency %v", lat)
	}
}

func TestProbeTCP_Refused(t *testing.T) {
	addr := closedPort(t)
	if _, err := ProbeTCP(context.Background(), addr, 500*time.Millisecond); err == nil {
		t.Fatal("expected dial error for closed port")
	}
}

func TestProbeAddress(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"dsn", Config{DSN: "user:pw@tcp(db.example.com:3307)/game"}, "db.example.com:3307"},
		{"fields", Config{Host: "10.0.0.5", Port: 3307}, "10.0.0.5:3307"},
		{"default port", Config{Host: "db.example.com"}, "db.example.com:3306"},
		{"unix socket", Config{DSN: "user@unix(/var/run/mysqld/mysqld.sock)/game"}, ""},
		{"opaque dsn", Config{Driver: "sqlmock", DSN: "sqlbridge_probe_opaque"}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := probeAddress(tc.cfg); got != tc.want {
				t.Fatalf("probeAddress = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDiagnose_ServerDown(t *testing.T) {
	addr := closedPort(t)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split %q: %v", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("port %q: %v", portStr, err)
	}

	report := Diagnose(context.Background(), Config{
		Host:     host,
		Port:     port,
		Username: "root",
		Database: "game",
	}, ProbeConfig{DialTimeout: 500 * time.Millisecond, PingTimeout: 500 * time.Millisecond})

	if report.Address != addr {
		t.Fatalf("address = %q, want %q", report.Address, addr)
	}
	if report.Reachable {
		t.Fatal("report claims a closed port is reachable")
	}
	if report.Healthy() {
		t.Fatal("report should not be healthy")
	}
	if !IsKind(report.Err, KindConnection) {
		t.Fatalf("want connection error, got %v", report.Err)
	}
}

func TestDiagnose_OpaqueDSNSkipsDial(t *testing.T) {
	db, _, err := sqlmock.NewWithDSN("sqlbridge_probe_handshake")
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	report := Diagnose(context.Background(), Config{Driver: "sqlmock", DSN: "sqlbridge_probe_handshake"}, ProbeConfig{})
	if report.Err != nil {
		t.Fatalf("diagnose: %v", report.Err)
	}
	if report.Address != "" {
		t.Fatalf("address = %q, want empty for opaque DSN", report.Address)
	}
	if report.Reachable {
		t.Fatal("dial step should be skipped for opaque DSNs")
	}
	if !report.Handshake {
		t.Fatal("handshake should succeed against the mock")
	}
	if !report.Healthy() {
		t.Fatal("report should be healthy")
	}
}

func TestPool_Diagnose(t *testing.T) {
	ctx := context.Background()
	p, _, err := NewMockPool(ctx)
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer p.Close()

	report := p.Diagnose(ctx)
	if report.Err != nil {
		t.Fatalf("diagnose: %v", report.Err)
	}
	if !report.Handshake {
		t.Fatal("handshake should succeed on a live pool")
	}
	if report.PingLatency < 0 {
		t.Fatalf("negative ping latency %v", report.PingLatency)
	}
}

func TestPool_Diagnose_NilPool(t *testing.T) {
	var p *Pool
	report := p.Diagnose(context.Background())
	if report.Healthy() {
		t.Fatal("nil pool must not report healthy")
	}
	if !IsKind(report.Err, KindConnection) {
		t.Fatalf("want connection error, got %v", report.Err)
	}
}
