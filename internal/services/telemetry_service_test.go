package services

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/benmeehan/gps-mapper/internal/gps"
	"github.com/benmeehan/gps-mapper/internal/mocks"
	"github.com/benmeehan/gps-mapper/pkg/serialport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	ggaMunich      = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47\r\n"
	ggaNearMunich  = "$GPGGA,123520,4807.039,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*4C\r\n"
	ggaMovedMunich = "$GPGGA,123520,4807.538,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*48\r\n"
)

var munichPacket = []byte{0xC4, 0x6E, 0xF8, 0x88, 0x30, 0x8B, 0x02, 0x21, 0x09}

type fakePort struct {
	bytes.Buffer
	closed bool
}

func (p *fakePort) Close() error {
	p.closed = true
	return nil
}

func newTestGPSReader(port *fakePort, clk clock.Clock, openErr error) *gps.Reader {
	opener := func(serialport.Config) (serialport.Port, error) {
		if openErr != nil {
			return nil, openErr
		}
		return port, nil
	}
	cfg := gps.Config{Serial: serialport.Config{Device: "/dev/ttyS1"}}
	return gps.NewReader(cfg, nil, opener, clk, zerolog.Nop())
}

func newTestTelemetryService(t *testing.T, port *fakePort, client *mocks.MockMQTTClient) (*TelemetryService, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	reader := newTestGPSReader(port, clk, nil)
	require.NoError(t, reader.Initialize())
	return NewTelemetryService("mapper/uplink", time.Second, 0, 25, time.Minute, reader, client, clk, zerolog.Nop()), clk
}

func TestTelemetryService_Poll_NoFixSkipsUplink(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	svc, _ := newTestTelemetryService(t, &fakePort{}, client)

	assert.NoError(t, svc.poll())
	assert.Nil(t, svc.lastUplink())
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTelemetryService_Poll_PublishesPackedFix(t *testing.T) {
	port := &fakePort{}
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "mapper/uplink", byte(0), false, munichPacket).Return(mocks.NewCompletedToken(nil)).Once()
	svc, clk := newTestTelemetryService(t, port, client)

	port.WriteString(ggaMunich)
	require.NoError(t, svc.poll())

	client.AssertExpectations(t)
	last := svc.lastUplink()
	require.NotNil(t, last)
	assert.Equal(t, munichPacket, last.Payload)
	assert.InDelta(t, 48.1173, last.Latitude, 1e-4)
	assert.Equal(t, clk.Now(), last.SentAt)
}

func TestTelemetryService_Poll_MinDistance(t *testing.T) {
	port := &fakePort{}
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "mapper/uplink", byte(0), false, mock.Anything).Return(mocks.NewCompletedToken(nil))
	svc, clk := newTestTelemetryService(t, port, client)

	port.WriteString(ggaMunich)
	require.NoError(t, svc.poll())

	// About two meters north: held back.
	clk.Add(time.Second)
	port.WriteString(ggaNearMunich)
	require.NoError(t, svc.poll())
	client.AssertNumberOfCalls(t, "Publish", 1)

	// About 900 meters north: sent.
	clk.Add(time.Second)
	port.WriteString(ggaMovedMunich)
	require.NoError(t, svc.poll())
	client.AssertNumberOfCalls(t, "Publish", 2)
	assert.InDelta(t, 48.12563, svc.lastUplink().Latitude, 1e-4)
}

func TestTelemetryService_Poll_MaxSilenceForcesUplink(t *testing.T) {
	port := &fakePort{}
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "mapper/uplink", byte(0), false, mock.Anything).Return(mocks.NewCompletedToken(nil))
	svc, clk := newTestTelemetryService(t, port, client)

	port.WriteString(ggaMunich)
	require.NoError(t, svc.poll())

	clk.Add(time.Minute)
	port.WriteString(ggaMunich)
	require.NoError(t, svc.poll())

	client.AssertNumberOfCalls(t, "Publish", 2)
}

func TestTelemetryService_Poll_PublishError(t *testing.T) {
	port := &fakePort{}
	client := new(mocks.MockMQTTClient)
	client.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(mocks.NewCompletedToken(errors.New("not connected")))
	svc, _ := newTestTelemetryService(t, port, client)

	port.WriteString(ggaMunich)
	err := svc.poll()

	assert.ErrorContains(t, err, "not connected")
	assert.Nil(t, svc.lastUplink())
}

func TestTelemetryService_StartStop(t *testing.T) {
	clk := clock.NewMock()
	port := &fakePort{}
	port.WriteString(ggaMunich)

	published := make(chan []byte, 1)
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "mapper/uplink", byte(1), false, mock.Anything).
		Run(func(args mock.Arguments) {
			published <- args.Get(3).([]byte)
		}).
		Return(mocks.NewCompletedToken(nil))

	reader := newTestGPSReader(port, clk, nil)
	svc := NewTelemetryService("mapper/uplink", time.Second, 1, 0, 0, reader, client, clk, zerolog.Nop())

	require.NoError(t, svc.Start())
	assert.Error(t, svc.Start())

	clk.Add(time.Second)
	select {
	case payload := <-published:
		assert.Equal(t, munichPacket, payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no packet published")
	}

	require.NoError(t, svc.Stop())
	assert.True(t, port.closed)
	assert.Error(t, svc.Stop())
}

func TestTelemetryService_StartFailsWhenPortCannotOpen(t *testing.T) {
	clk := clock.NewMock()
	reader := newTestGPSReader(nil, clk, errors.New("no such device"))
	svc := NewTelemetryService("mapper/uplink", time.Second, 0, 0, 0, reader, new(mocks.MockMQTTClient), clk, zerolog.Nop())

	err := svc.Start()

	assert.ErrorContains(t, err, "no such device")
	assert.Error(t, svc.Stop())
}
