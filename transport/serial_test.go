package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Otis-Lab-MUSC/reacher/errors"
	"github.com/Otis-Lab-MUSC/reacher/testutil"
)

func fastDeps(port *testutil.FakePort, infos []PortInfo) Deps {
	return Deps{
		List: func() ([]PortInfo, error) { return infos, nil },
		Open: func(name string, baud int) (Port, error) { return port, nil },
		ReleaseWait: time.Millisecond,
		SettleWait:  time.Millisecond,
		ReadTimeout: time.Millisecond,
	}
}

func usbPorts() []PortInfo {
	return []PortInfo{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "1A86", PID: "7523"},
	}
}

func TestListPortsFiltersNonUSB(t *testing.T) {
	infos := []PortInfo{
		{Name: "/dev/ttyACM0", IsUSB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyS0", IsUSB: false},
		{Name: "/dev/ttyAMA0", IsUSB: true, VID: "", PID: ""},
	}
	s := New(fastDeps(testutil.NewFakePort(), infos))

	assert.Equal(t, []string{"/dev/ttyACM0"}, s.ListPorts())
}

func TestListPortsSentinelWhenEmpty(t *testing.T) {
	s := New(fastDeps(testutil.NewFakePort(), nil))
	assert.Equal(t, []string{NoAvailablePorts}, s.ListPorts())
}

func TestListPortsSentinelOnEnumerationError(t *testing.T) {
	s := New(Deps{
		List: func() ([]PortInfo, error) { return nil, assert.AnError },
	})
	assert.Equal(t, []string{NoAvailablePorts}, s.ListPorts())
}

func TestSelectPortTolerant(t *testing.T) {
	s := New(fastDeps(testutil.NewFakePort(), usbPorts()))

	s.SelectPort("/dev/ttyACM0")
	assert.Equal(t, "/dev/ttyACM0", s.Selected())

	// Unknown port leaves the selection unchanged, no error surfaces.
	s.SelectPort("/dev/ttyBOGUS")
	assert.Equal(t, "/dev/ttyACM0", s.Selected())

	s.SelectPort(NoAvailablePorts)
	assert.Equal(t, "/dev/ttyACM0", s.Selected())
}

func TestOpenRequiresSelection(t *testing.T) {
	s := New(fastDeps(testutil.NewFakePort(), usbPorts()))

	err := s.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNoPortSelected)
	assert.False(t, s.IsOpen())
}

func TestOpenFlushesBootNoise(t *testing.T) {
	port := testutil.NewFakePort()
	port.FeedLine("boot garbage")
	s := New(fastDeps(port, usbPorts()))
	s.SelectPort("/dev/ttyACM0")

	require.NoError(t, s.Open(context.Background()))
	assert.True(t, s.IsOpen())

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Empty(t, line)
}

func TestOpenClosesExistingPortFirst(t *testing.T) {
	first := testutil.NewFakePort()
	second := testutil.NewFakePort()
	ports := []*testutil.FakePort{first, second}
	opened := 0

	deps := fastDeps(nil, usbPorts())
	deps.Open = func(name string, baud int) (Port, error) {
		p := ports[opened]
		opened++
		return p, nil
	}
	s := New(deps)
	s.SelectPort("/dev/ttyACM0")

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Open(context.Background()))

	assert.True(t, first.Closed())
	assert.False(t, second.Closed())
	assert.Equal(t, 2, opened)
}

func TestOpenFailureClassifiedTransient(t *testing.T) {
	deps := fastDeps(nil, usbPorts())
	deps.Open = func(name string, baud int) (Port, error) { return nil, assert.AnError }
	s := New(deps)
	s.SelectPort("/dev/ttyACM0")

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := s.Open(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOpenFailed)
	assert.True(t, errors.IsTransient(err))
	assert.False(t, s.IsOpen())
}

func TestWriteRequiresOpenPort(t *testing.T) {
	s := New(fastDeps(testutil.NewFakePort(), usbPorts()))

	err := s.WriteLine("LINK")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortNotOpen)
	assert.True(t, errors.IsTransport(err))
}

func TestWriteLineFramesWithNewline(t *testing.T) {
	port := testutil.NewFakePort()
	s := New(fastDeps(port, usbPorts()))
	s.SelectPort("/dev/ttyACM0")
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.WriteLine("LINK"))
	require.NoError(t, s.WriteLine(`{"cmd":101}`))

	assert.Equal(t, []string{"LINK", `{"cmd":101}`}, port.WrittenLines())
}

func TestReadLineEmptyWhenNoData(t *testing.T) {
	port := testutil.NewFakePort()
	s := New(fastDeps(port, usbPorts()))
	s.SelectPort("/dev/ttyACM0")
	require.NoError(t, s.Open(context.Background()))

	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Empty(t, line)
}

func TestReadLineReassemblesSplitFrames(t *testing.T) {
	port := testutil.NewFakePort()
	s := New(fastDeps(port, usbPorts()))
	s.SelectPort("/dev/ttyACM0")
	require.NoError(t, s.Open(context.Background()))

	port.FeedRaw([]byte("RH_LEVER,ACTIVE"))
	line, err := s.ReadLine()
	require.NoError(t, err)
	assert.Empty(t, line)

	port.FeedRaw([]byte("_PRESS,100,200\r\n_,4500\n"))
	line, err = s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "RH_LEVER,ACTIVE_PRESS,100,200", line)

	line, err = s.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "_,4500", line)
}

func TestReadLineAfterClose(t *testing.T) {
	port := testutil.NewFakePort()
	s := New(fastDeps(port, usbPorts()))
	s.SelectPort("/dev/ttyACM0")
	require.NoError(t, s.Open(context.Background()))
	s.Close()

	_, err := s.ReadLine()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPortNotOpen)
}

func TestCloseIdempotent(t *testing.T) {
	port := testutil.NewFakePort()
	s := New(fastDeps(port, usbPorts()))
	s.SelectPort("/dev/ttyACM0")
	require.NoError(t, s.Open(context.Background()))

	s.Close()
	s.Close()
	assert.True(t, port.Closed())
	assert.False(t, s.IsOpen())
}

func TestCloseSwallowsPortErrors(t *testing.T) {
	port := testutil.NewFakePort()
	port.CloseErr = assert.AnError
	port.DrainErr = assert.AnError
	s := New(fastDeps(port, usbPorts()))
	s.SelectPort("/dev/ttyACM0")
	require.NoError(t, s.Open(context.Background()))

	s.Close()
	assert.False(t, s.IsOpen())
}
