package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pilebones/go-udev/netlink"

	"memorycam/internal/logging"
	"memorycam/internal/netcheck"
	"memorycam/internal/testsupport"
	"memorycam/internal/upload"
	"memorycam/internal/workflow"
)

func TestNewNetlinkMonitor(t *testing.T) {
	t.Run("no subsystems returns nil", func(t *testing.T) {
		if m := newNetlinkMonitor(nil, nil, nil); m != nil {
			t.Error("expected nil monitor without subsystems")
		}
	})

	t.Run("subsystems create monitor", func(t *testing.T) {
		m := newNetlinkMonitor(nil, []string{"sound"}, nil)
		if m == nil {
			t.Fatal("expected non-nil monitor")
		}
		if len(m.subsystems) != 1 || m.subsystems[0] != "sound" {
			t.Errorf("unexpected subsystems %v", m.subsystems)
		}
	})
}

func TestNetlinkMonitorNilSafety(t *testing.T) {
	var m *netlinkMonitor
	if m.Running() {
		t.Error("expected Running() to return false for nil monitor")
	}
	m.Stop()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil monitor should return nil, got: %v", err)
	}
}

func TestNetlinkMonitorStopIsIdempotent(t *testing.T) {
	m := newNetlinkMonitor(nil, []string{"sound"}, nil)
	m.Stop()
	m.Stop()
	if m.Running() {
		t.Error("expected monitor stopped")
	}
	// Connecting may fail without privileges; that is logged, not returned.
	_ = m.Start(context.Background())
	m.Stop()
}

func TestBuildMatcher(t *testing.T) {
	m := newNetlinkMonitor(nil, []string{"sound", "video4linux"}, nil)
	matcher := m.buildMatcher()

	cases := []struct {
		name   string
		action netlink.KObjAction
		sub    string
		want   bool
	}{
		{"sound add", netlink.ADD, "sound", true},
		{"camera add", netlink.ADD, "video4linux", true},
		{"sound remove", netlink.REMOVE, "sound", false},
		{"sound change", netlink.CHANGE, "sound", false},
		{"unwatched subsystem", netlink.ADD, "block", false},
		{"prefix only", netlink.ADD, "soundwire", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := netlink.UEvent{Action: tc.action, Env: map[string]string{"SUBSYSTEM": tc.sub}}
			if got := matcher.Evaluate(event); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestHandleEventInvokesHandler(t *testing.T) {
	var got []string
	m := newNetlinkMonitor(nil, []string{"sound"}, func(subsystem string) int {
		got = append(got, subsystem)
		return 1
	})

	m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{}})
	if len(got) != 0 {
		t.Fatal("handler should not run for events without a subsystem")
	}

	m.handleEvent(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "sound", "DEVNAME": "/dev/snd/pcmC1D0c"}})
	if len(got) != 1 || got[0] != "sound" {
		t.Fatalf("expected handler called with sound, got %v", got)
	}
}

func TestDeviceName(t *testing.T) {
	if name := deviceName(netlink.UEvent{Env: map[string]string{"DEVNAME": "/dev/video0"}}); name != "/dev/video0" {
		t.Errorf("expected DEVNAME, got %s", name)
	}
	event := netlink.UEvent{Env: map[string]string{"DEVPATH": "/devices/platform/soc/usb1/1-1/video4linux/video0"}}
	if name := deviceName(event); name != "/dev/video0" {
		t.Errorf("expected /dev/video0 from DEVPATH, got %s", name)
	}
	if name := deviceName(netlink.UEvent{Env: map[string]string{}}); name != "" {
		t.Errorf("expected empty name, got %s", name)
	}
}

func TestHandleDeviceEventRestartsStoppedProducers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	worker := workflow.NewWorker(store, upload.NewClient(cfg.Upload.BaseURL, time.Second),
		netcheck.New(cfg.Network.CheckURL, 100*time.Millisecond), workflow.Options{}, logging.NewNop(), nil)

	var runs atomic.Int32
	camera := Component{
		Name:       "camera",
		Subsystems: []string{"video4linux"},
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("camera unplugged")
		},
	}
	d, err := New(cfg, store, logging.NewNop(), worker, nil, camera)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	waitStopped := func() {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for {
			status := d.Status(context.Background())
			if !status.Components[0].Running {
				return
			}
			if time.Now().After(deadline) {
				t.Fatal("component did not stop")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	waitStopped()

	if n := d.handleDeviceEvent("sound"); n != 0 {
		t.Fatalf("unrelated subsystem restarted %d producers", n)
	}
	if n := d.handleDeviceEvent("video4linux"); n != 1 {
		t.Fatalf("expected 1 restart, got %d", n)
	}
	waitStopped()
	if runs.Load() != 2 {
		t.Fatalf("expected 2 runs, got %d", runs.Load())
	}
	if got := d.Status(context.Background()).Components[0].Restarts; got != 1 {
		t.Fatalf("expected restart count 1, got %d", got)
	}
}
