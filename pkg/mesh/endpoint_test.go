package mesh

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 10 * time.Second

type testNode struct {
	identity *Identity
	host     host.Host
	endpoint *Endpoint
}

func newTestMesh(t *testing.T, names ...string) []*testNode {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	mn := mocknet.New()
	t.Cleanup(func() { mn.Close() })

	nodes := make([]*testNode, 0, len(names))
	for i, name := range names {
		id, err := IdentityFromName(name)
		require.NoError(t, err)

		addr := multiaddr.StringCast(fmt.Sprintf("/ip4/10.0.0.%d/tcp/4242", i+1))
		h, err := mn.AddPeer(id.PrivKey(), addr)
		require.NoError(t, err)

		nodes = append(nodes, &testNode{identity: id, host: h})
	}

	require.NoError(t, mn.LinkAll())
	require.NoError(t, mn.ConnectAllButSelf())

	for _, n := range nodes {
		ep, err := NewEndpoint(ctx, n.host)
		require.NoError(t, err)
		t.Cleanup(func() { ep.Close() })
		n.endpoint = ep
	}
	return nodes
}

// awaitAnnounce re-announces dest from the server until the client sees it.
func awaitAnnounce(t *testing.T, server, client *testNode, dest *Destination) Announce {
	t.Helper()

	announces, cancel := client.endpoint.SubscribeAnnounces()
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(eventTimeout)

	for {
		select {
		case ann := <-announces:
			if ann.Descriptor.Fingerprint == dest.Fingerprint() {
				return ann
			}
		case <-ticker.C:
			require.NoError(t, server.endpoint.SendAnnounce(context.Background(), dest, nil))
		case <-deadline:
			t.Fatal("announce not received")
		}
	}
}

func nextEvent(t *testing.T, events <-chan LinkEvent) LinkEvent {
	t.Helper()

	select {
	case ev, ok := <-events:
		require.True(t, ok, "event stream closed")
		return ev
	case <-time.After(eventTimeout):
		t.Fatal("no link event")
		return LinkEvent{}
	}
}

func TestEndpointLinkLifecycle(t *testing.T) {
	nodes := newTestMesh(t, "server", "client")
	server, client := nodes[0], nodes[1]

	dest, err := server.endpoint.AddDestination(server.identity, NewDestinationName("meshtun", "server"))
	require.NoError(t, err)

	inEvents, cancelIn := server.endpoint.SubscribeInLinkEvents()
	defer cancelIn()
	outEvents, cancelOut := client.endpoint.SubscribeOutLinkEvents()
	defer cancelOut()

	ann := awaitAnnounce(t, server, client, dest)
	assert.Equal(t, server.host.ID(), ann.Descriptor.Peer)

	link, err := client.endpoint.Link(context.Background(), ann.Descriptor)
	require.NoError(t, err)
	assert.Equal(t, Outbound, link.Direction())

	ev := nextEvent(t, outEvents)
	assert.Equal(t, EventActivated, ev.Kind)
	assert.Equal(t, link.ID(), ev.ID)
	assert.Equal(t, dest.Fingerprint(), ev.Fingerprint)

	ev = nextEvent(t, inEvents)
	assert.Equal(t, EventActivated, ev.Kind)
	assert.Equal(t, link.ID(), ev.ID)
	assert.Equal(t, dest.Fingerprint(), ev.Fingerprint)

	// client to server
	sent, err := client.endpoint.SendToAllOutLinks(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	ev = nextEvent(t, inEvents)
	assert.Equal(t, EventData, ev.Kind)
	assert.Equal(t, []byte("ping"), ev.Payload)

	// server to client
	inLink, err := server.endpoint.FindInLink(ev.ID)
	require.NoError(t, err)
	require.NoError(t, server.endpoint.SendPacket(context.Background(), inLink.DataPacket([]byte("pong"))))

	ev = nextEvent(t, outEvents)
	assert.Equal(t, EventData, ev.Kind)
	assert.Equal(t, []byte("pong"), ev.Payload)

	// teardown
	require.NoError(t, link.Teardown())

	ev = nextEvent(t, inEvents)
	assert.Equal(t, EventClosed, ev.Kind)
	assert.Equal(t, link.ID(), ev.ID)

	ev = nextEvent(t, outEvents)
	assert.Equal(t, EventClosed, ev.Kind)

	require.Eventually(t, func() bool {
		_, err := server.endpoint.FindInLink(link.ID())
		return err != nil
	}, eventTimeout, 10*time.Millisecond)

	err = server.endpoint.SendPacket(context.Background(), inLink.DataPacket([]byte("late")))
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestEndpointRejectsUnknownDestination(t *testing.T) {
	nodes := newTestMesh(t, "server", "client")
	server, client := nodes[0], nodes[1]

	outEvents, cancel := client.endpoint.SubscribeOutLinkEvents()
	defer cancel()

	desc := Descriptor{
		Fingerprint: Fingerprint{0xcc, 0xdd},
		Peer:        server.host.ID(),
		Addrs:       server.host.Addrs(),
	}
	link, err := client.endpoint.Link(context.Background(), desc)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return link.State() == LinkClosed
	}, eventTimeout, 10*time.Millisecond)

	select {
	case ev := <-outEvents:
		t.Fatalf("unexpected event %v", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEndpointAddDestinationRequiresHostIdentity(t *testing.T) {
	nodes := newTestMesh(t, "server")

	stranger, err := IdentityFromName("stranger")
	require.NoError(t, err)

	_, err = nodes[0].endpoint.AddDestination(stranger, NewDestinationName("meshtun", "server"))
	assert.ErrorIs(t, err, ErrIdentityMismatch)
}

func TestEndpointLinkWithoutRoute(t *testing.T) {
	nodes := newTestMesh(t, "client")

	_, err := nodes[0].endpoint.Link(context.Background(), Descriptor{Fingerprint: Fingerprint{1}})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestEndpointFindInLinkUnknown(t *testing.T) {
	nodes := newTestMesh(t, "server")

	_, err := nodes[0].endpoint.FindInLink(LinkID{1})
	assert.ErrorIs(t, err, ErrLinkNotFound)
	assert.ErrorIs(t, nodes[0].endpoint.SendPacket(context.Background(), &Packet{LinkID: LinkID{1}}), ErrLinkNotFound)
}

func TestEndpointClose(t *testing.T) {
	nodes := newTestMesh(t, "server")
	ep := nodes[0].endpoint

	events, _ := ep.SubscribeInLinkEvents()
	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())

	_, ok := <-events
	assert.False(t, ok)

	_, err := ep.SendToAllOutLinks(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrEndpointClosed)
}
