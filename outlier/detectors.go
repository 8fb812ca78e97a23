package outlier

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/meshgov/polaris-client/model"
	"github.com/meshgov/polaris-client/plugin"
)

func init() {
	plugin.RegisterBuiltinHook(func(r *plugin.Registry) {
		r.Register("tcp", plugin.KindOutlierDetector, func() plugin.Plugin { return &TCPDetector{} })
		r.Register("udp", plugin.KindOutlierDetector, func() plugin.Plugin { return &UDPDetector{} })
		r.Register("http", plugin.KindOutlierDetector, func() plugin.Plugin { return &HTTPDetector{Path: "/"} })
	})
}

func addr(inst model.Instance) string {
	return fmt.Sprintf("%s:%d", inst.Host, inst.Port)
}

// TCPDetector probes liveness with a bare connect(3): success on
// completion, fail on connection error, timeout on deadline.
type TCPDetector struct{}

func (d *TCPDetector) Name() string { return "tcp" }

func (d *TCPDetector) Probe(ctx context.Context, inst model.Instance, timeout time.Duration) (Outcome, time.Duration) {
	start := time.Now()
	conn, err := net.DialTimeout("tcp", addr(inst), timeout)
	latency := time.Since(start)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Timeout, latency
		}
		return Fail, latency
	}
	conn.Close()
	return Success, latency
}

// UDPDetector sends a probe packet and awaits an echo within the
// deadline; no echo within the deadline counts as Fail (the spec allows
// making timeout configurable as fail, which this detector does
// unconditionally since UDP gives no other useful liveness signal).
type UDPDetector struct {
	Payload []byte
}

func (d *UDPDetector) Name() string { return "udp" }

func (d *UDPDetector) Probe(ctx context.Context, inst model.Instance, timeout time.Duration) (Outcome, time.Duration) {
	start := time.Now()
	conn, err := net.DialTimeout("udp", addr(inst), timeout)
	if err != nil {
		return Fail, time.Since(start)
	}
	defer conn.Close()

	payload := d.Payload
	if len(payload) == 0 {
		payload = []byte("polaris-probe")
	}
	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(payload); err != nil {
		return Fail, time.Since(start)
	}

	buf := make([]byte, 64)
	_, err = conn.Read(buf)
	latency := time.Since(start)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return Fail, latency
		}
		return Fail, latency
	}
	return Success, latency
}

// HTTPDetector issues a GET against Path; 2xx is Success, any other
// status or transport error is Fail.
type HTTPDetector struct {
	Path string
}

func (d *HTTPDetector) Name() string { return "http" }

func (d *HTTPDetector) Probe(ctx context.Context, inst model.Instance, timeout time.Duration) (Outcome, time.Duration) {
	path := d.Path
	if path == "" {
		path = "/"
	}
	url := fmt.Sprintf("http://%s%s", addr(inst), path)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Fail, 0
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return Timeout, latency
		}
		return Fail, latency
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Success, latency
	}
	return Fail, latency
}
