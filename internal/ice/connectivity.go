package ice

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ProbeResult is the reachability report for one configured server.
// A down server is a result row, never an error: callers decide whether
// STUN-only connectivity is acceptable.
type ProbeResult struct {
	URL       string `json:"url"`
	OK        bool   `json:"ok"`
	LatencyMs int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// TestConnectivity probes every configured STUN and TURN endpoint
// concurrently. STUN servers get a real binding request; TURN servers a
// transport-level dial (allocations need live credentials on the far
// side). Runs off the signaling path; bounded by cfg.ProbeTimeout.
func (s *Service) TestConnectivity(ctx context.Context) []ProbeResult {
	urls := append(append([]string(nil), s.cfg.STUNURLs...), s.cfg.TURNURLs...)
	results := make([]ProbeResult, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	for i, raw := range urls {
		g.Go(func() error {
			start := time.Now()
			err := s.probe(ctx, raw)
			results[i] = ProbeResult{
				URL:       raw,
				OK:        err == nil,
				LatencyMs: time.Since(start).Milliseconds(),
			}
			if err != nil {
				results[i].Error = err.Error()
				log.Warn().Str("module", "ice").Str("url", raw).Err(err).Msg("probe failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) probe(ctx context.Context, raw string) error {
	scheme, addr, err := splitServerURL(raw)
	if err != nil {
		return err
	}
	switch scheme {
	case "stun", "stuns":
		return probeSTUN(addr, s.cfg.ProbeTimeout)
	case "turn":
		return probeDial(ctx, "udp", addr, s.cfg.ProbeTimeout)
	case "turns":
		return probeDial(ctx, "tcp", addr, s.cfg.ProbeTimeout)
	default:
		return fmt.Errorf("unsupported scheme %q", scheme)
	}
}

func probeSTUN(addr string, timeout time.Duration) error {
	conn, err := net.DialTimeout("udp4", addr, timeout)
	if err != nil {
		return err
	}
	client, err := stun.NewClient(conn, stun.WithRTO(timeout))
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer client.Close()

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	var probeErr error
	if err := client.Do(req, func(ev stun.Event) {
		if ev.Error != nil {
			probeErr = ev.Error
			return
		}
		var mapped stun.XORMappedAddress
		if err := mapped.GetFrom(ev.Message); err != nil {
			probeErr = fmt.Errorf("binding response without mapped address: %w", err)
		}
	}); err != nil {
		return err
	}
	return probeErr
}

// probeDial checks transport reachability only. TURN relays over UDP by
// default; turns: implies TCP/TLS.
func probeDial(ctx context.Context, network, addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// splitServerURL takes "stun:host:port" or "turn:host:port?transport=x"
// and returns the scheme plus a dialable host:port.
func splitServerURL(raw string) (scheme, addr string, err error) {
	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok || rest == "" {
		return "", "", fmt.Errorf("malformed server url %q", raw)
	}
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q]
	}
	if !strings.Contains(rest, ":") {
		rest += defaultPort(scheme)
	}
	return scheme, rest, nil
}

func defaultPort(scheme string) string {
	if scheme == "turns" || scheme == "stuns" {
		return ":5349"
	}
	return ":3478"
}
