package daemon

import (
	"context"
	"log/slog"
	"path"
	"regexp"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"memorycam/internal/logging"
)

// netlinkMonitor listens for udev netlink events so producers that died with
// their device come back when it is plugged in again.
type netlinkMonitor struct {
	logger     *slog.Logger
	subsystems []string
	handler    func(subsystem string) int

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// newNetlinkMonitor returns nil when there is nothing to watch.
func newNetlinkMonitor(logger *slog.Logger, subsystems []string, handler func(subsystem string) int) *netlinkMonitor {
	if len(subsystems) == 0 {
		return nil
	}
	return &netlinkMonitor{
		logger:     logging.NewComponentLogger(logger, "netlink-monitor"),
		subsystems: append([]string(nil), subsystems...),
		handler:    handler,
	}
}

// Start begins listening for udev netlink events.
func (m *netlinkMonitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; device hotplug will not restart producers",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"),
			logging.String(logging.FieldImpact, "a failed producer stays down until the daemon restarts"),
		)
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, conn, quit)

	m.logger.Info("netlink monitor started",
		logging.String(logging.FieldEventType, "netlink_monitor_started"),
		logging.Any("subsystems", m.subsystems),
	)
	return nil
}

// Stop shuts down the netlink monitor.
func (m *netlinkMonitor) Stop() {
	if m == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

// Running reports whether the netlink monitor is active.
func (m *netlinkMonitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *netlinkMonitor) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(events, errs, m.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("netlink monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "device hotplug may be missed"),
			)
		}
	}
}

// buildMatcher matches device additions in any watched subsystem. Rule
// values are regular expressions, so each subsystem is anchored.
func (m *netlinkMonitor) buildMatcher() netlink.Matcher {
	action := "^add$"
	rules := &netlink.RuleDefinitions{}
	for _, subsystem := range m.subsystems {
		rules.AddRule(netlink.RuleDefinition{
			Action: &action,
			Env: map[string]string{
				"SUBSYSTEM": "^" + regexp.QuoteMeta(subsystem) + "$",
			},
		})
	}
	return rules
}

func (m *netlinkMonitor) handleEvent(uevent netlink.UEvent) {
	subsystem := uevent.Env["SUBSYSTEM"]
	if subsystem == "" {
		return
	}
	m.logger.Debug("device event",
		logging.String("subsystem", subsystem),
		logging.String("action", string(uevent.Action)),
		logging.String("device", deviceName(uevent)),
	)
	if m.handler == nil {
		return
	}
	if restarted := m.handler(subsystem); restarted > 0 {
		m.logger.Info("device reconnected",
			logging.String(logging.FieldEventType, "netlink_device_added"),
			logging.String("subsystem", subsystem),
			logging.String("device", deviceName(uevent)),
			logging.Int("restarted", restarted),
		)
	}
}

// deviceName gets the device path from a uevent.
func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	return "/dev/" + path.Base(devpath)
}
