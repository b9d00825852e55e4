package controller

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pikvm-go/ustreamer/internal/config"
	"github.com/pikvm-go/ustreamer/internal/display"
	"github.com/pikvm-go/ustreamer/internal/metrics"
	"github.com/pikvm-go/ustreamer/internal/sink"

	"github.com/prometheus/client_golang/prometheus"
)

func newTestController(cfg config.Settings) *Controller {
	reg := prometheus.NewRegistry()
	return New(
		cfg,
		"/dev/video0",
		nil,
		nil,
		nil,
		sink.New("image", 0, time.Second),
		metrics.New(reg),
		display.New("/dev/dri/card0", "HDMI-A-1", 5*time.Second, zerolog.Nop()),
		zerolog.Nop(),
	)
}

func TestShouldBlankNegativeBlanksImmediately(t *testing.T) {
	c := newTestController(config.Settings{LastAsBlank: -1})
	if !c.shouldBlank(time.Now()) {
		t.Fatal("expected immediate blank for negative last_as_blank")
	}
}

func TestShouldBlankZeroNeverBlanks(t *testing.T) {
	c := newTestController(config.Settings{LastAsBlank: 0})
	if c.shouldBlank(time.Now().Add(-time.Hour)) {
		t.Fatal("expected last_as_blank=0 to never blank")
	}
}

func TestShouldBlankPositiveWaitsThreshold(t *testing.T) {
	c := newTestController(config.Settings{LastAsBlank: 5})
	if c.shouldBlank(time.Now()) {
		t.Fatal("expected no blank before threshold elapses")
	}
	if !c.shouldBlank(time.Now().Add(-6 * time.Second)) {
		t.Fatal("expected blank after threshold elapses")
	}
}

func TestShouldBlankZeroOfflineSinceIsFalse(t *testing.T) {
	c := newTestController(config.Settings{LastAsBlank: -1})
	if c.shouldBlank(time.Time{}) {
		t.Fatal("expected no blank when not offline")
	}
}

func TestCheckExitOnIdleDisabled(t *testing.T) {
	c := newTestController(config.Settings{ExitOnNoClients: 0})
	last := time.Now().Add(-time.Hour)
	if c.checkExitOnIdle(&last) {
		t.Fatal("expected exit-on-idle disabled when ExitOnNoClients is 0")
	}
}

func TestCheckExitOnIdleTriggersAfterGrace(t *testing.T) {
	c := newTestController(config.Settings{ExitOnNoClients: 1})
	last := time.Now().Add(-2 * time.Second)
	if !c.checkExitOnIdle(&last) {
		t.Fatal("expected exit-on-idle to trigger after grace period")
	}
}

func TestCheckExitOnIdleResetsWhenClientPresent(t *testing.T) {
	c := newTestController(config.Settings{ExitOnNoClients: 30})
	c.imageSink.Heartbeat()
	last := time.Now().Add(-time.Hour)
	if c.checkExitOnIdle(&last) {
		t.Fatal("expected no exit while a client heartbeat is recent")
	}
	if time.Since(last) > time.Second {
		t.Fatal("expected lastClientsSeen to be refreshed")
	}
}

func TestDisplayMetricState(t *testing.T) {
	cases := map[display.State]int{
		display.Closed:      metrics.DisplayClosed,
		display.OpenForDMA:  metrics.DisplayOpenForDMA,
		display.OpenForStub: metrics.DisplayOpenForStub,
	}
	for state, want := range cases {
		if got := displayMetricState(state); got != want {
			t.Errorf("displayMetricState(%v) = %d, want %d", state, got, want)
		}
	}
}

func TestStopSetsFlag(t *testing.T) {
	c := newTestController(config.Default())
	if c.stopFlag.Load() {
		t.Fatal("expected fresh controller to not be stopped")
	}
	c.Stop()
	if !c.stopFlag.Load() {
		t.Fatal("expected Stop to set the flag")
	}
}
