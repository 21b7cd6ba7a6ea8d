// heartbeat.go: the periodic device status report to the cloud
package edgesync

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/plategate/plategate/internal/conf"
	"github.com/plategate/plategate/internal/datastore"
	"github.com/plategate/plategate/internal/edgecache"
)

// HeartbeatSender posts one device status report.
type HeartbeatSender interface {
	SendHeartbeat(ctx context.Context, hb *Heartbeat) error
}

// Heartbeater reports the device's condition to the cloud on a fixed
// interval. A beat is fire-and-forget: failures are logged and the next
// tick tries again, the cloud-side offline sweep covers prolonged silence.
type Heartbeater struct {
	sender   HeartbeatSender
	cache    *edgecache.Cache
	runner   *Runner
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration

	propertyID string
	firmware   string

	wg sync.WaitGroup
}

// NewHeartbeater creates a heartbeat loop from the edge settings. The
// runner may be nil, the beat then carries no sync error state.
func NewHeartbeater(sender HeartbeatSender, cache *edgecache.Cache, runner *Runner, settings *conf.Settings) *Heartbeater {
	interval := time.Duration(settings.Edge.Heartbeat.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := time.Duration(settings.Edge.Sync.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Heartbeater{
		sender:     sender,
		cache:      cache,
		runner:     runner,
		logger:     getLogger(),
		interval:   interval,
		timeout:    timeout,
		propertyID: settings.Edge.PropertyID,
		firmware:   settings.Version,
	}
}

// Start launches the heartbeat loop. The first beat goes out immediately so
// a freshly booted device shows up without waiting a full interval.
func (h *Heartbeater) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.run(ctx)
}

// Wait blocks until the loop has stopped.
func (h *Heartbeater) Wait() {
	h.wg.Wait()
}

func (h *Heartbeater) run(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.beat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

// Beat composes and sends one status report. Exported so the edge process
// can send a final beat outside the loop during shutdown.
func (h *Heartbeater) Beat(ctx context.Context) error {
	return h.beat(ctx)
}

func (h *Heartbeater) beat(ctx context.Context) error {
	hb := h.compose()

	sendCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	if err := h.sender.SendHeartbeat(sendCtx, hb); err != nil {
		h.logger.Warn("heartbeat failed", "error", err)
		return err
	}
	h.logger.Debug("heartbeat sent",
		"status", hb.Status,
		"snapshot_version", hb.SnapshotVersion)
	return nil
}

// compose assembles the report: cache version and fingerprint, the last
// sync failure (if any) as the error text, and the device's address. A beat
// without a sync error reports online, which clears any stored error on the
// cloud side.
func (h *Heartbeater) compose() *Heartbeat {
	hb := &Heartbeat{
		PropertyID: h.propertyID,
		Status:     datastore.DeviceOnline,
		Firmware:   h.firmware,
		LocalIP:    localIP(),
	}

	if info, ok := h.cache.Info(); ok {
		hb.SnapshotVersion = info.Version
		hb.Fingerprint = info.Fingerprint
	}

	if h.runner != nil {
		if status := h.runner.Status(); status.LastError != "" {
			hb.Status = datastore.DeviceError
			hb.LastError = status.LastError
		}
	}
	return hb
}

// localIP returns the first non-loopback IPv4 address, empty when none is
// found.
func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return ipv4.String()
			}
		}
	}
	return ""
}
