// Package mirrordriver wraps two storagepool.Driver backends as one
// RAID-1 mirror: writes go to both (secondary failures are logged, not
// fatal), reads prefer the primary and transparently fail over to the
// secondary, enqueuing a bounded repair request on failover (spec §4.5).
package mirrordriver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuemby/databay/pkg/clock"
	"github.com/cuemby/databay/pkg/log"
	"github.com/cuemby/databay/pkg/storagepool"
)

const (
	defaultQueueDepth  = 256
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
)

// Driver mirrors every write across a primary and secondary
// storagepool.Driver sharing one scheme.
type Driver struct {
	scheme    string
	primary   storagepool.Driver
	secondary storagepool.Driver
	clock     clock.Clock

	repairCh chan string
	stopCh   chan struct{}
	wg       sync.WaitGroup

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Config configures a mirrored Driver.
type Config struct {
	Scheme      string
	Primary     storagepool.Driver
	Secondary   storagepool.Driver
	QueueDepth  int
	Clock       clock.Clock
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// New constructs a mirrored driver. Call Start to begin the background
// repair worker.
func New(cfg Config) *Driver {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	cl := cfg.Clock
	if cl == nil {
		cl = clock.New()
	}
	base := cfg.BaseBackoff
	if base <= 0 {
		base = defaultBaseBackoff
	}
	max := cfg.MaxBackoff
	if max <= 0 {
		max = defaultMaxBackoff
	}
	return &Driver{
		scheme:      cfg.Scheme,
		primary:     cfg.Primary,
		secondary:   cfg.Secondary,
		clock:       cl,
		repairCh:    make(chan string, depth),
		stopCh:      make(chan struct{}),
		baseBackoff: base,
		maxBackoff:  max,
	}
}

func (d *Driver) Scheme() string { return d.scheme }

// Start begins the background repair worker.
func (d *Driver) Start() {
	d.wg.Add(1)
	go d.repairLoop()
}

// Stop halts the repair worker. Queued-but-undrained repairs are
// dropped; the next read-side failover will re-enqueue them.
func (d *Driver) Stop() {
	close(d.stopCh)
	d.wg.Wait()
}

// Save writes to the primary synchronously; a secondary failure is
// logged and the write still succeeds, per spec's "warn and continue."
func (d *Driver) Save(ctx context.Context, uri string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("mirrordriver: reading stream for %s: %w", uri, err)
	}
	if err := d.primary.Save(ctx, uri, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("mirrordriver: primary save %s: %w", uri, err)
	}
	if err := d.secondary.Save(ctx, uri, bytes.NewReader(data)); err != nil {
		log.Logger.Warn().Err(err).Str("uri", uri).Msg("mirrordriver: secondary write failed")
		d.enqueueRepair(uri)
	}
	return nil
}

// Load reads from the primary, failing over to the secondary and
// enqueuing a repair on primary failure.
func (d *Driver) Load(ctx context.Context, uri string) (io.ReadCloser, error) {
	rc, err := d.primary.Load(ctx, uri)
	if err == nil {
		return rc, nil
	}
	rc2, err2 := d.secondary.Load(ctx, uri)
	if err2 != nil {
		return nil, fmt.Errorf("mirrordriver: both sides failed loading %s: primary=%v secondary=%v", uri, err, err2)
	}
	d.enqueueRepair(uri)
	return rc2, nil
}

// Delete removes uri from both sides; a secondary failure is logged, not
// fatal.
func (d *Driver) Delete(ctx context.Context, uri string) error {
	if err := d.primary.Delete(ctx, uri); err != nil {
		return fmt.Errorf("mirrordriver: primary delete %s: %w", uri, err)
	}
	if err := d.secondary.Delete(ctx, uri); err != nil {
		log.Logger.Warn().Err(err).Str("uri", uri).Msg("mirrordriver: secondary delete failed")
	}
	return nil
}

// Exists reports primary existence, falling back to the secondary.
func (d *Driver) Exists(ctx context.Context, uri string) (bool, error) {
	ok, err := d.primary.Exists(ctx, uri)
	if err == nil {
		return ok, nil
	}
	return d.secondary.Exists(ctx, uri)
}

func (d *Driver) enqueueRepair(uri string) {
	select {
	case d.repairCh <- uri:
	default:
		log.Logger.Warn().Str("uri", uri).Msg("mirrordriver: repair queue full, dropping request")
	}
}

func (d *Driver) repairLoop() {
	defer d.wg.Done()
	backoff := d.baseBackoff
	for {
		select {
		case uri := <-d.repairCh:
			if d.repairOne(uri) {
				backoff = d.baseBackoff
				continue
			}
			select {
			case <-d.clock.After(backoff):
			case <-d.stopCh:
				return
			}
			backoff *= 2
			if backoff > d.maxBackoff {
				backoff = d.maxBackoff
			}
			d.enqueueRepair(uri)
		case <-d.stopCh:
			return
		}
	}
}

// repairOne loads uri from whichever side is healthy and writes it to
// the other, reporting whether the repair succeeded.
func (d *Driver) repairOne(uri string) bool {
	ctx := context.Background()

	if rc, err := d.primary.Load(ctx, uri); err == nil {
		defer rc.Close()
		if err := d.secondary.Save(ctx, uri, rc); err != nil {
			log.Logger.Warn().Err(err).Str("uri", uri).Msg("mirrordriver: repair to secondary failed")
			return false
		}
		return true
	}

	rc, err := d.secondary.Load(ctx, uri)
	if err != nil {
		log.Logger.Warn().Str("uri", uri).Msg("mirrordriver: repair found both sides unhealthy")
		return false
	}
	defer rc.Close()
	if err := d.primary.Save(ctx, uri, rc); err != nil {
		log.Logger.Warn().Err(err).Str("uri", uri).Msg("mirrordriver: repair to primary failed")
		return false
	}
	return true
}
