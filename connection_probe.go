package sqlbridge

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"strconv"
	"time"

	mysql "github.com/go-sql-driver/mysql"
)

// ProbeReport is the outcome of one connectivity diagnosis. The dial
// step and the handshake step fail independently, which is what makes
// the report useful: "server unreachable" and "credentials rejected"
// need different fixes, and a bootstrap retry loop timing out cannot
// tell them apart.
type ProbeReport struct {
	// Address is the TCP endpoint that was dialed. Empty when the
	// configuration does not expose one (opaque DSNs, unix sockets);
	// the dial step is skipped then.
	Address     string
	Reachable   bool
	DialLatency time.Duration
	// Handshake reports whether a full driver round trip, including
	// authentication, succeeded.
	Handshake   bool
	PingLatency time.Duration
	Err         error
}

// Healthy reports whether every probe step that ran succeeded.
func (r *ProbeReport) Healthy() bool {
	return r != nil && r.Err == nil && r.Handshake
}

// ProbeConfig bounds the two probe steps. Zero fields fall back to the
// defaults.
type ProbeConfig struct {
	DialTimeout time.Duration
	PingTimeout time.Duration
}

// DefaultProbeConfig returns the timeouts used when ProbeConfig fields
// are left zero.
func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		DialTimeout: 3 * time.Second,
		PingTimeout: 3 * time.Second,
	}
}

func (pc ProbeConfig) withDefaults() ProbeConfig {
	def := DefaultProbeConfig()
	if pc.DialTimeout <= 0 { pc.DialTimeout = def.DialTimeout }
	if pc.PingTimeout <= 0 { pc.PingTimeout = def.PingTimeout }
	return pc
}

// ProbeTCP dials addr and reports how long the connect took. It proves
// network reachability only; nothing MySQL-shaped happens on the
// connection.
func ProbeTCP(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	if timeout <= 0 { timeout = DefaultProbeConfig().DialTimeout }
	d := net.Dialer{Timeout: timeout}
	start := time.Now()
	conn, err := d.DialContext(ctx, "tcp", addr)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, fmt.Errorf("dial %s: %w", addr, err)
	}
	_ = conn.Close()
	return elapsed, nil
}

// probeAddress derives the TCP endpoint from the configuration. An
// explicit DSN wins when the MySQL driver understands it; otherwise
// the host/port fields apply, with the server default port.
func probeAddress(cfg Config) string {
	if cfg.DSN != "" {
		if mc, err := mysql.ParseDSN(cfg.DSN); err == nil && mc.Net == "tcp" {
			return mc.Addr
		}
	}
	if cfg.Host == "" { return "" }
	port := cfg.Port
	if port <= 0 { port = 3306 }
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// Diagnose checks whether the configured server can be reached and
// authenticated against, without building a pool. Hosts run this at
// boot so a dead database, a firewalled port or bad credentials
// surface as one readable report before the first session opens.
func Diagnose(ctx context.Context, cfg Config, pc ProbeConfig) *ProbeReport {
	cfg = cfg.withDefaults()
	pc = pc.withDefaults()

	report := &ProbeReport{Address: probeAddress(cfg)}
	if report.Address != "" {
		lat, err := ProbeTCP(ctx, report.Address, pc.DialTimeout)
		report.DialLatency = lat
		if err != nil {
			report.Err = wrapError(KindConnection, "", err)
			return report
		}
		report.Reachable = true
	}

	dsn, err := dsnFromConfig(cfg)
	if err != nil {
		report.Err = wrapError(KindConnection, "", err)
		return report
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		report.Err = wrapError(KindConnection, "", err)
		return report
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	report.diagnosePing(ctx, db, pc.PingTimeout)
	return report
}

// Diagnose probes the live pool's server. The handshake step goes
// through the pool's own handle, so it exercises the exact credentials
// and DSN the pool runs with.
func (p *Pool) Diagnose(ctx context.Context) *ProbeReport {
	if p == nil || p.db == nil {
		return &ProbeReport{Err: wrapError(KindConnection, "", ErrPoolClosed)}
	}
	pc := DefaultProbeConfig()
	report := &ProbeReport{Address: probeAddress(p.cfg)}
	if report.Address != "" {
		lat, err := ProbeTCP(ctx, report.Address, pc.DialTimeout)
		report.DialLatency = lat
		if err != nil {
			report.Err = wrapError(KindConnection, "", err)
			return report
		}
		report.Reachable = true
	}
	report.diagnosePing(ctx, p.db, pc.PingTimeout)
	return report
}

func (r *ProbeReport) diagnosePing(ctx context.Context, db *sql.DB, timeout time.Duration) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	err := db.PingContext(pingCtx)
	r.PingLatency = time.Since(start)
	if err != nil {
		r.Err = wrapError(KindConnection, "", fmt.Errorf("handshake: %w", err))
		return
	}
	r.Handshake = true
}
