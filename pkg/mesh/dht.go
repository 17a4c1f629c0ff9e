package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	provideTimeout = time.Minute
	findTimeout    = 30 * time.Second
)

// FindDestination looks up the peers providing fp on the DHT.
func (e *Endpoint) FindDestination(ctx context.Context, fp Fingerprint) ([]peer.AddrInfo, error) {
	if e.dht == nil {
		return nil, fmt.Errorf("%w: no DHT configured", ErrNoRoute)
	}

	c, err := fp.CID()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, findTimeout)
	defer cancel()

	var providers []peer.AddrInfo
	for info := range e.dht.FindProvidersAsync(ctx, c, 1) {
		if info.ID == e.host.ID() {
			continue
		}
		providers = append(providers, info)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no providers for %s", ErrNoRoute, fp)
	}
	return providers, nil
}

// maybeProvide announces fp on the DHT unless it was provided within the
// last ProvideInterval.
func (e *Endpoint) maybeProvide(fp Fingerprint) {
	if e.dht == nil {
		return
	}

	e.mu.Lock()
	last, ok := e.provided[fp]
	if ok && time.Since(last) < e.cfg.ProvideInterval {
		e.mu.Unlock()
		return
	}
	e.provided[fp] = time.Now()
	e.mu.Unlock()

	c, err := fp.CID()
	if err != nil {
		log.Warnf("Failed to derive CID for %s: %v", fp, err)
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ctx, cancel := context.WithTimeout(e.ctx, provideTimeout)
		defer cancel()

		if err := e.dht.Provide(ctx, c, true); err != nil {
			log.Debugf("Failed to provide %s on DHT: %v", fp, err)
			return
		}
		log.Debugf("Provided %s on DHT", fp)
	}()
}
