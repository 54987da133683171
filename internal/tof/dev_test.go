package tof

import (
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tofcal/internal/regmap"
	"github.com/relabs-tech/tofcal/internal/simulator"
	"github.com/relabs-tech/tofcal/internal/transport"
)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func newTestDev(t *testing.T, tr transport.Transport) *Dev {
	t.Helper()
	d, err := New(tr, Options{
		Name:        "test",
		Logger:      quietLogger(),
		TestTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func newSimDev(t *testing.T, cfg simulator.Config) (*Dev, *simulator.Device) {
	t.Helper()
	sim := simulator.New(cfg)
	return newTestDev(t, sim), sim
}

// gate blocks the first Wait until release is closed.
type gate struct {
	transport.Transport
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gate) Wait(d time.Duration) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Transport.Wait(d)
}

var errRelease = errors.New("release refused")

// stickyPower refuses to drop power force.
type stickyPower struct {
	transport.Transport
}

func (s stickyPower) WriteRegister(addr uint16, data []byte) error {
	if addr == regmap.PowerForce && len(data) > 0 && data[0] == regmap.PowerForceOff {
		return errRelease
	}
	return s.Transport.WriteRegister(addr, data)
}

func TestNewWithoutTransport(t *testing.T) {
	if _, err := New(nil, Options{}); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("got %v, want ErrNoTransport", err)
	}

	var d Dev
	if _, err := d.RunRefSPADChar(); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("zero Dev: got %v, want ErrNoTransport", err)
	}
}

func TestRunDeviceTest(t *testing.T) {
	for _, activeHigh := range []bool{false, true} {
		d, sim := newSimDev(t, simulator.Config{ActiveHigh: activeHigh})

		res, err := d.RunDeviceTest(TestModeDCR)
		if err != nil {
			t.Fatalf("activeHigh=%t: %v", activeHigh, err)
		}
		if res.RangeStatus != regmap.RangeStatusComplete {
			t.Fatalf("activeHigh=%t: range status 0x%02X", activeHigh, res.RangeStatus)
		}
		if sim.PowerForced() {
			t.Fatalf("activeHigh=%t: power force left on", activeHigh)
		}
	}
}

func TestRunDeviceTestRejectsMode(t *testing.T) {
	d, sim := newSimDev(t, simulator.Config{})
	for _, m := range []TestMode{TestModeNone, modeSingleRange, TestMode(0x42)} {
		if _, err := d.RunDeviceTest(m); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("mode %s: got %v, want ErrInvalidParams", m, err)
		}
	}
	if sim.Triggers() != 0 {
		t.Fatalf("rejected modes reached the device")
	}
}

func TestParseTestMode(t *testing.T) {
	m, err := ParseTestMode(" LCR-VCSEL-ON ")
	if err != nil || m != TestModeLCRVCSELOn {
		t.Fatalf("got %s, %v", m, err)
	}
	if _, err := ParseTestMode("single-range"); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("internal mode accepted: %v", err)
	}
}

func TestTimeoutReleasesPowerForce(t *testing.T) {
	d, sim := newSimDev(t, simulator.Config{})
	sim.NeverReady()

	if _, err := d.RunDeviceTest(TestModeDCR); !errors.Is(err, ErrTimeout) {
		t.Fatalf("device test: got %v, want ErrTimeout", err)
	}
	if sim.PowerForced() {
		t.Fatalf("power force left on after device test timeout")
	}

	if _, err := d.RunSPADRateMap(TestModeLCRVCSELOff, ArrayReturn, 1000); !errors.Is(err, ErrTimeout) {
		t.Fatalf("rate map: got %v, want ErrTimeout", err)
	}
	if _, err := d.RunRefSPADChar(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("ref spad: got %v, want ErrTimeout", err)
	}
	if _, err := d.RunOffsetCalibration(140); !errors.Is(err, ErrTimeout) {
		t.Fatalf("offset: got %v, want ErrTimeout", err)
	}
	if sim.PowerForced() {
		t.Fatalf("power force left on after calibration timeout")
	}
	if _, ok := d.RefSPADData(); ok {
		t.Fatalf("ref spad data set by a failed run")
	}
	if _, ok := d.OffsetData(); ok {
		t.Fatalf("offset data set by a failed run")
	}
}

func TestTimeoutCountsPolls(t *testing.T) {
	d, sim := newSimDev(t, simulator.Config{})
	sim.NeverReady()

	_, _ = d.RunDeviceTest(TestModeDCR)
	if got := sim.Elapsed(); got != 20*time.Millisecond {
		t.Fatalf("waited %v, want 20ms", got)
	}
}

func TestPowerForceReleaseErrorIsJoined(t *testing.T) {
	sim := simulator.New(simulator.Config{})
	d := newTestDev(t, stickyPower{sim})

	_, err := d.RunDeviceTest(TestModeDCR)
	if !errors.Is(err, errRelease) {
		t.Fatalf("got %v, want release error", err)
	}

	sim.NeverReady()
	_, err = d.RunDeviceTest(TestModeDCR)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, errRelease) {
		t.Fatalf("got %v, want timeout joined with release error", err)
	}
}

func TestBusy(t *testing.T) {
	g := &gate{
		Transport: simulator.New(simulator.Config{}),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	d := newTestDev(t, g)

	done := make(chan error, 1)
	go func() {
		_, err := d.RunDeviceTest(TestModeDCR)
		done <- err
	}()
	<-g.entered

	if _, err := d.RunRefSPADChar(); !errors.Is(err, ErrBusy) {
		t.Fatalf("ref spad: got %v, want ErrBusy", err)
	}
	if _, err := d.RunOffsetCalibration(100); !errors.Is(err, ErrBusy) {
		t.Fatalf("offset: got %v, want ErrBusy", err)
	}
	// Getters do not wait for the running operation.
	if _, ok := d.OffsetData(); ok {
		t.Fatalf("unexpected offset data")
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("blocked operation: %v", err)
	}
	if _, err := d.RunDeviceTest(TestModeDCR); err != nil {
		t.Fatalf("handle not released: %v", err)
	}
}

func TestTransportErrorIsWrapped(t *testing.T) {
	d, sim := newSimDev(t, simulator.Config{})
	sim.FailRead(regmap.GPIOHVMuxCtrl)

	_, err := d.RunDeviceTest(TestModeDCR)
	if !errors.Is(err, simulator.ErrInjected) {
		t.Fatalf("got %v, want injected fault", err)
	}
	if sim.PowerForced() {
		t.Fatalf("power force left on")
	}
}
