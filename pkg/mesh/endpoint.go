package mesh

import (
	"bufio"
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"go.uber.org/multierr"
)

// Config holds endpoint tuning.
type Config struct {
	// AnnounceTopic is the pubsub topic announces are exchanged on.
	AnnounceTopic string

	// PathTimeout is how long an announced path stays usable.
	PathTimeout time.Duration

	// PathSweepInterval is how often stale paths are removed.
	PathSweepInterval time.Duration

	// LinkTimeout bounds link establishment on both ends.
	LinkTimeout time.Duration

	// ProvideInterval is the minimum time between DHT provide records
	// for the same destination.
	ProvideInterval time.Duration

	// EventBuffer is the channel capacity given to each subscriber.
	EventBuffer int
}

// DefaultConfig returns the default endpoint configuration.
func DefaultConfig() Config {
	return Config{
		AnnounceTopic:     DefaultAnnounceTopic,
		PathTimeout:       30 * time.Minute,
		PathSweepInterval: time.Minute,
		LinkTimeout:       15 * time.Second,
		ProvideInterval:   10 * time.Minute,
		EventBuffer:       defaultSubscriberBuffer,
	}
}

// Option configures an Endpoint.
type Option func(*Endpoint)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Endpoint) {
		e.cfg = cfg
	}
}

// WithDHT enables destination provide records and DHT peer lookups.
func WithDHT(d *dht.IpfsDHT) Option {
	return func(e *Endpoint) {
		e.dht = d
	}
}

// WithPubSub shares an existing pubsub router instead of creating one.
func WithPubSub(ps *pubsub.PubSub) Option {
	return func(e *Endpoint) {
		e.ps = ps
	}
}

// Endpoint is one node's attachment to the mesh. It registers local
// destinations, exchanges announces, opens and accepts links and delivers
// link events to subscribers.
type Endpoint struct {
	host host.Host
	ps   *pubsub.PubSub
	dht  *dht.IpfsDHT
	cfg  Config

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	destinations map[Fingerprint]*Destination
	links        map[LinkID]*Link
	provided     map[Fingerprint]time.Time

	paths     *pathTable
	announces *broadcaster[Announce]
	outEvents *broadcaster[LinkEvent]
	inEvents  *broadcaster[LinkEvent]

	closeOnce sync.Once
	closeErr  error
}

// NewEndpoint attaches h to the mesh. The endpoint stops when ctx is done
// or Close is called; the host itself is owned by the caller.
func NewEndpoint(ctx context.Context, h host.Host, opts ...Option) (*Endpoint, error) {
	ctx, cancel := context.WithCancel(ctx)

	e := &Endpoint{
		host:         h,
		cfg:          DefaultConfig(),
		ctx:          ctx,
		cancel:       cancel,
		destinations: make(map[Fingerprint]*Destination),
		links:        make(map[LinkID]*Link),
		provided:     make(map[Fingerprint]time.Time),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.paths = newPathTable(e.cfg.PathTimeout)
	e.announces = newBroadcaster[Announce](e.cfg.EventBuffer)
	e.outEvents = newBroadcaster[LinkEvent](e.cfg.EventBuffer)
	e.inEvents = newBroadcaster[LinkEvent](e.cfg.EventBuffer)

	if e.ps == nil {
		ps, err := pubsub.NewGossipSub(ctx, h,
			pubsub.WithMessageSigning(true),
			pubsub.WithStrictSignatureVerification(true),
		)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create pubsub: %w", err)
		}
		e.ps = ps
	}

	topic, err := e.ps.Join(e.cfg.AnnounceTopic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to join topic: %w", err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		cancel()
		topic.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	e.topic = topic
	e.sub = sub

	h.SetStreamHandler(LinkProtocolID, e.handleStream)

	e.wg.Add(2)
	go e.handleAnnounces()
	go e.maintainPaths()

	return e, nil
}

// Host returns the libp2p host of the endpoint.
func (e *Endpoint) Host() host.Host {
	return e.host
}

// AddDestination registers a local destination so inbound links to it are
// accepted. The identity must be the host's own.
func (e *Endpoint) AddDestination(id *Identity, name DestinationName) (*Destination, error) {
	pid, err := id.PeerID()
	if err != nil {
		return nil, err
	}
	if pid != e.host.ID() {
		return nil, ErrIdentityMismatch
	}

	dest, err := NewDestination(id, name)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.destinations[dest.Fingerprint()] = dest
	e.mu.Unlock()

	log.Debugf("Registered destination %s (%s)", dest.Fingerprint(), name)
	return dest, nil
}

// SendAnnounce publishes an announce for a local destination. With a DHT
// configured the destination is also provided, at most once per
// ProvideInterval.
func (e *Endpoint) SendAnnounce(ctx context.Context, dest *Destination, appData []byte) error {
	if e.ctx.Err() != nil {
		return ErrEndpointClosed
	}

	data, err := encodeAnnounce(dest, e.host.Addrs(), appData, time.Now())
	if err != nil {
		return err
	}
	if err := e.topic.Publish(ctx, data); err != nil {
		return fmt.Errorf("failed to publish announce: %w", err)
	}

	e.maybeProvide(dest.Fingerprint())
	return nil
}

// SubscribeAnnounces returns a channel of verified announces from other
// nodes and a function ending the subscription.
func (e *Endpoint) SubscribeAnnounces() (<-chan Announce, func()) {
	return e.announces.subscribe()
}

// SubscribeOutLinkEvents returns events of links this node opened.
func (e *Endpoint) SubscribeOutLinkEvents() (<-chan LinkEvent, func()) {
	return e.outEvents.subscribe()
}

// SubscribeInLinkEvents returns events of links opened to local
// destinations.
func (e *Endpoint) SubscribeInLinkEvents() (<-chan LinkEvent, func()) {
	return e.inEvents.subscribe()
}

// Link opens an outbound link to desc. The returned link is pending; an
// Activated event follows once the remote side accepts it.
func (e *Endpoint) Link(ctx context.Context, desc Descriptor) (*Link, error) {
	if e.ctx.Err() != nil {
		return nil, ErrEndpointClosed
	}

	info, err := e.resolve(ctx, desc)
	if err != nil {
		return nil, err
	}
	if len(info.Addrs) > 0 {
		e.host.Peerstore().AddAddrs(info.ID, info.Addrs, peerstore.TempAddrTTL)
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.LinkTimeout)
	defer cancel()

	s, err := e.host.NewStream(dialCtx, info.ID, LinkProtocolID)
	if err != nil {
		return nil, fmt.Errorf("failed to open link stream to %s: %w", info.ID, err)
	}

	req := linkRequest{Fingerprint: desc.Fingerprint}
	if _, err := rand.Read(req.Nonce[:]); err != nil {
		s.Reset()
		return nil, fmt.Errorf("failed to generate link nonce: %w", err)
	}
	payload := req.encode()

	link := newStreamLink(linkIDFor(payload), desc.Fingerprint, Outbound, info.ID, s)
	if err := writeFrame(s, frameLinkRequest, payload); err != nil {
		s.Reset()
		return nil, fmt.Errorf("failed to send link request: %w", err)
	}

	e.addLink(link)
	log.Debugf("Requested link %s to %s via %s", link.id, desc.Fingerprint, info.ID)

	e.wg.Add(1)
	go e.runOutbound(link, s)

	return link, nil
}

// FindInLink returns the open inbound link with the given id.
func (e *Endpoint) FindInLink(id LinkID) (*Link, error) {
	e.mu.RLock()
	link, ok := e.links[id]
	e.mu.RUnlock()

	if !ok || link.Direction() != Inbound || link.State() == LinkClosed {
		return nil, ErrLinkNotFound
	}
	return link, nil
}

// SendPacket sends a packet on the link it is addressed to.
func (e *Endpoint) SendPacket(ctx context.Context, pkt *Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.RLock()
	link, ok := e.links[pkt.LinkID]
	e.mu.RUnlock()
	if !ok {
		return ErrLinkNotFound
	}

	if err := link.send(pkt.Data); err != nil {
		return fmt.Errorf("link %s: %w", pkt.LinkID, err)
	}
	return nil
}

// SendToAllOutLinks sends payload on every active outbound link and
// returns how many links it was sent on. Links failing the send are torn
// down.
func (e *Endpoint) SendToAllOutLinks(ctx context.Context, payload []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if e.ctx.Err() != nil {
		return 0, ErrEndpointClosed
	}

	sent := 0
	for _, link := range e.Links() {
		if link.Direction() != Outbound || link.State() != LinkActive {
			continue
		}
		if err := link.send(payload); err != nil {
			log.Warnf("Failed to send on link %s: %v", link.id, err)
			link.Teardown()
			continue
		}
		sent++
	}
	return sent, nil
}

// Links returns a snapshot of all links that have not finished closing.
func (e *Endpoint) Links() []*Link {
	e.mu.RLock()
	defer e.mu.RUnlock()

	links := make([]*Link, 0, len(e.links))
	for _, l := range e.links {
		links = append(links, l)
	}
	return links
}

// Paths returns every known path to a remote destination.
func (e *Endpoint) Paths() []PathEntry {
	return e.paths.all()
}

// Close tears down every link and leaves the mesh. It does not close the
// host.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		e.host.RemoveStreamHandler(LinkProtocolID)

		var err error
		for _, link := range e.Links() {
			err = multierr.Append(err, link.Teardown())
		}

		e.sub.Cancel()
		if e.ctx.Err() == nil {
			err = multierr.Append(err, e.topic.Close())
		}

		e.cancel()
		e.wg.Wait()

		e.announces.close()
		e.outEvents.close()
		e.inEvents.close()

		e.closeErr = err
	})
	return e.closeErr
}

func (e *Endpoint) addLink(link *Link) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.links[link.id]; exists {
		return false
	}
	e.links[link.id] = link
	return true
}

func (e *Endpoint) removeLink(id LinkID) {
	e.mu.Lock()
	delete(e.links, id)
	e.mu.Unlock()
}

func (e *Endpoint) handleAnnounces() {
	defer e.wg.Done()

	for {
		msg, err := e.sub.Next(e.ctx)
		if err != nil {
			return
		}

		// Skip messages from self
		if msg.ReceivedFrom == e.host.ID() {
			continue
		}

		ann, err := decodeAnnounce(msg.Data, msg.GetFrom(), time.Now())
		if err != nil {
			log.Debugf("Dropping announce: %v", err)
			continue
		}
		ann.ReceivedFrom = msg.ReceivedFrom

		e.paths.update(ann.Descriptor)
		if len(ann.Descriptor.Addrs) > 0 {
			e.host.Peerstore().AddAddrs(ann.Descriptor.Peer, ann.Descriptor.Addrs, peerstore.TempAddrTTL)
		}
		log.Tracef("Announce for %s from %s", ann.Descriptor.Fingerprint, ann.Descriptor.Peer)

		if err := e.announces.publish(e.ctx, ann); err != nil {
			return
		}
	}
}

func (e *Endpoint) maintainPaths() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.PathSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if n := e.paths.expire(); n > 0 {
				log.Debugf("Expired %d paths", n)
			}
		}
	}
}

func (e *Endpoint) runOutbound(link *Link, s network.Stream) {
	defer e.wg.Done()

	r := bufio.NewReader(s)
	s.SetReadDeadline(time.Now().Add(e.cfg.LinkTimeout))

	typ, payload, err := readFrame(r)
	switch {
	case err != nil:
	case typ != frameLinkProof:
		err = fmt.Errorf("expected proof, got %s frame", typ)
	case !bytes.Equal(payload, link.id[:]):
		err = fmt.Errorf("proof does not match link id")
	}
	if err == nil && !link.activate() {
		err = ErrLinkClosed
	}
	if err != nil {
		log.Warnf("Link %s to %s was not established: %v", link.id, link.fingerprint, err)
		link.markClosed()
		s.Reset()
		e.removeLink(link.id)
		return
	}
	s.SetReadDeadline(time.Time{})

	log.Debugf("Link %s to %s activated", link.id, link.fingerprint)
	e.outEvents.publish(e.ctx, LinkEvent{ID: link.id, Fingerprint: link.fingerprint, Kind: EventActivated})

	e.readLoop(link, r, e.outEvents)
	e.finishLink(link, s, e.outEvents)
}

func (e *Endpoint) handleStream(s network.Stream) {
	remote := s.Conn().RemotePeer()
	r := bufio.NewReader(s)
	s.SetReadDeadline(time.Now().Add(e.cfg.LinkTimeout))

	typ, payload, err := readFrame(r)
	if err != nil || typ != frameLinkRequest {
		log.Debugf("Rejecting link stream from %s: type=%s err=%v", remote, typ, err)
		s.Reset()
		return
	}

	req, err := decodeLinkRequest(payload)
	if err != nil {
		log.Debugf("Rejecting link from %s: %v", remote, err)
		s.Reset()
		return
	}

	e.mu.RLock()
	_, known := e.destinations[req.Fingerprint]
	e.mu.RUnlock()
	if !known {
		log.Debugf("Rejecting link from %s for unknown destination %s", remote, req.Fingerprint)
		s.Reset()
		return
	}
	s.SetReadDeadline(time.Time{})

	link := newStreamLink(linkIDFor(payload), req.Fingerprint, Inbound, remote, s)
	link.activate()
	if !e.addLink(link) {
		log.Debugf("Rejecting duplicate link %s from %s", link.id, remote)
		s.Reset()
		return
	}

	if err := writeFrame(s, frameLinkProof, link.id[:]); err != nil {
		log.Debugf("Failed to send proof for link %s: %v", link.id, err)
		link.markClosed()
		s.Reset()
		e.removeLink(link.id)
		return
	}

	log.Debugf("Inbound link %s from %s activated", link.id, remote)
	e.inEvents.publish(e.ctx, LinkEvent{ID: link.id, Fingerprint: link.fingerprint, Kind: EventActivated})

	e.readLoop(link, r, e.inEvents)
	e.finishLink(link, s, e.inEvents)
}

func (e *Endpoint) readLoop(link *Link, r io.Reader, events *broadcaster[LinkEvent]) {
	for {
		typ, payload, err := readFrame(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && e.ctx.Err() == nil {
				log.Debugf("Link %s read failed: %v", link.id, err)
			}
			return
		}

		switch typ {
		case frameData:
			ev := LinkEvent{ID: link.id, Fingerprint: link.fingerprint, Kind: EventData, Payload: payload}
			if err := events.publish(e.ctx, ev); err != nil {
				return
			}
		case frameTeardown:
			log.Debugf("Link %s torn down by %s", link.id, link.remote)
			return
		default:
			log.Debugf("Ignoring %s frame on link %s", typ, link.id)
		}
	}
}

func (e *Endpoint) finishLink(link *Link, s network.Stream, events *broadcaster[LinkEvent]) {
	link.markClosed()
	s.Close()
	e.removeLink(link.id)

	log.Debugf("Link %s closed", link.id)
	events.publish(e.ctx, LinkEvent{ID: link.id, Fingerprint: link.fingerprint, Kind: EventClosed})
}

// resolve finds the peer and addresses serving desc: the descriptor
// itself, then the path table, then the DHT.
func (e *Endpoint) resolve(ctx context.Context, desc Descriptor) (peer.AddrInfo, error) {
	info := peer.AddrInfo{ID: desc.Peer, Addrs: desc.Addrs}

	if path, ok := e.paths.lookup(desc.Fingerprint); ok {
		if info.ID == "" {
			info.ID = path.Peer
		}
		if len(info.Addrs) == 0 && info.ID == path.Peer {
			info.Addrs = path.Addrs
		}
	}

	if info.ID == "" && e.dht != nil {
		providers, err := e.FindDestination(ctx, desc.Fingerprint)
		if err != nil {
			return info, err
		}
		info = providers[0]
	}
	if info.ID == "" {
		return info, fmt.Errorf("%w: %s", ErrNoRoute, desc.Fingerprint)
	}

	if len(info.Addrs) == 0 && len(e.host.Peerstore().Addrs(info.ID)) == 0 && e.dht != nil {
		found, err := e.dht.FindPeer(ctx, info.ID)
		if err != nil {
			return info, fmt.Errorf("%w: %s: %w", ErrNoRoute, desc.Fingerprint, err)
		}
		info.Addrs = found.Addrs
	}
	if len(info.Addrs) == 0 && len(e.host.Peerstore().Addrs(info.ID)) == 0 {
		return info, fmt.Errorf("%w: no addresses for %s", ErrNoRoute, info.ID)
	}
	return info, nil
}
