package bridge

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/VetheonGames/meshtun/pkg/mesh"
	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

var (
	fpA = mustFingerprint(strings.Repeat("aabb", 10))
	fpC = mustFingerprint(strings.Repeat("ccdd", 10))
)

func mustFingerprint(s string) mesh.Fingerprint {
	fp, err := mesh.ParseFingerprint(s)
	if err != nil {
		panic(err)
	}
	return fp
}

// fakeDevice hands packets pushed on in to Read and records sends on out.
// in is unbuffered, so a push completes only once the previous packet has
// been handled and the loop is back in Read.
type fakeDevice struct {
	in      chan []byte
	out     chan []byte
	sendErr error

	closed chan struct{}
	once   sync.Once
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		in:     make(chan []byte),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (d *fakeDevice) Read() ([]byte, error) {
	select {
	case p := <-d.in:
		return p, nil
	case <-d.closed:
		return nil, os.ErrClosed
	}
}

func (d *fakeDevice) Send(p []byte) (int, error) {
	if d.sendErr != nil {
		return 0, d.sendErr
	}
	d.out <- p
	return len(p), nil
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) push(t *testing.T, p []byte) {
	t.Helper()
	select {
	case d.in <- p:
	case <-time.After(testTimeout):
		t.Fatal("device read not called")
	}
}

// mockOverlay implements both overlay interfaces. Streams are unbuffered
// so a send completes only once the previous item has been handled.
type mockOverlay struct {
	mock.Mock

	announces chan mesh.Announce
	outEvents chan mesh.LinkEvent
	inEvents  chan mesh.LinkEvent
}

func newMockOverlay() *mockOverlay {
	return &mockOverlay{
		announces: make(chan mesh.Announce),
		outEvents: make(chan mesh.LinkEvent),
		inEvents:  make(chan mesh.LinkEvent),
	}
}

func (m *mockOverlay) SubscribeAnnounces() (<-chan mesh.Announce, func()) {
	return m.announces, func() {}
}

func (m *mockOverlay) SubscribeOutLinkEvents() (<-chan mesh.LinkEvent, func()) {
	return m.outEvents, func() {}
}

func (m *mockOverlay) SubscribeInLinkEvents() (<-chan mesh.LinkEvent, func()) {
	return m.inEvents, func() {}
}

func (m *mockOverlay) Link(ctx context.Context, desc mesh.Descriptor) (*mesh.Link, error) {
	args := m.Called(ctx, desc)
	link, _ := args.Get(0).(*mesh.Link)
	return link, args.Error(1)
}

func (m *mockOverlay) SendToAllOutLinks(ctx context.Context, payload []byte) (int, error) {
	args := m.Called(ctx, payload)
	return args.Int(0), args.Error(1)
}

func (m *mockOverlay) SendAnnounce(ctx context.Context, dest *mesh.Destination, appData []byte) error {
	args := m.Called(ctx, dest, appData)
	return args.Error(0)
}

func (m *mockOverlay) FindInLink(id mesh.LinkID) (*mesh.Link, error) {
	args := m.Called(id)
	link, _ := args.Get(0).(*mesh.Link)
	return link, args.Error(1)
}

func (m *mockOverlay) SendPacket(ctx context.Context, pkt *mesh.Packet) error {
	args := m.Called(ctx, pkt)
	return args.Error(0)
}

func sendAnnounce(t *testing.T, ch chan mesh.Announce, fp mesh.Fingerprint) {
	t.Helper()
	select {
	case ch <- mesh.Announce{Descriptor: mesh.Descriptor{Fingerprint: fp}}:
	case <-time.After(testTimeout):
		t.Fatal("announce not consumed")
	}
}

func sendEvent(t *testing.T, ch chan mesh.LinkEvent, ev mesh.LinkEvent) {
	t.Helper()
	select {
	case ch <- ev:
	case <-time.After(testTimeout):
		t.Fatal("link event not consumed")
	}
}

// startBridge runs a bridge in the background and returns a function
// that interrupts it and waits for its exit.
func startBridge(t *testing.T, run func(context.Context, <-chan struct{}) *LoopExit) func() *LoopExit {
	t.Helper()

	interrupt := make(chan struct{})
	done := runBridge(run, interrupt)

	var once sync.Once
	return func() *LoopExit {
		once.Do(func() { close(interrupt) })
		return waitExit(t, done)
	}
}

// runBridge starts run in the background and returns its exit.
func runBridge(run func(context.Context, <-chan struct{}) *LoopExit, interrupt <-chan struct{}) <-chan *LoopExit {
	done := make(chan *LoopExit, 1)
	go func() {
		done <- run(context.Background(), interrupt)
	}()
	return done
}

func waitExit(t *testing.T, done <-chan *LoopExit) *LoopExit {
	t.Helper()
	select {
	case exit := <-done:
		return exit
	case <-time.After(testTimeout):
		t.Fatal("bridge did not stop")
		return nil
	}
}

// captureLog routes the package logger into a buffer for one test.
func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	UseLogger(btclog.NewBackend(&buf).Logger("BRDG"))
	t.Cleanup(func() { UseLogger(btclog.Disabled) })
	return &buf
}

func expectNoPacket(t *testing.T, out chan []byte) {
	t.Helper()
	select {
	case p := <-out:
		t.Fatalf("unexpected tun send of %d bytes", len(p))
	default:
	}
}

func receivePacket(t *testing.T, out chan []byte) []byte {
	t.Helper()
	select {
	case p := <-out:
		return p
	case <-time.After(testTimeout):
		t.Fatal("no tun send")
		return nil
	}
}

func newTestDestination(t *testing.T) *mesh.Destination {
	t.Helper()

	id, err := mesh.IdentityFromName("server")
	require.NoError(t, err)
	dest, err := mesh.NewDestination(id, mesh.NewDestinationName("meshtun", "server"))
	require.NoError(t, err)
	return dest
}
