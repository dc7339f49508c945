package storagepool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/databay/pkg/durable"
)

// Pool presents one logical content-addressed store over every mounted
// node (spec §4.5).
type Pool struct {
	clock      clockSource
	nodes      []*node
	byScheme   map[string]*node
	dedupIndex *durable.State[string]
	wormIndex  *durable.State[time.Time]
}

// clockSource is the minimal time source Pool needs; kept local so this
// package doesn't force every caller to depend on pkg/clock's full
// interface for a single NowUTC call.
type clockSource interface {
	NowUTC() time.Time
}

// Open mounts every configured node (creating its durable inventory
// under dataDir) and opens the pool-wide dedup and WORM registries.
func Open(dataDir string, nodeConfigs []NodeConfig, cl clockSource) (*Pool, error) {
	p := &Pool{clock: cl, byScheme: make(map[string]*node)}

	for _, cfg := range nodeConfigs {
		inv, err := openInventory(dataDir, cfg.ID)
		if err != nil {
			return nil, err
		}
		n := &node{id: cfg.ID, tier: cfg.Tier, driver: cfg.Driver, capacity: cfg.Capacity, inventory: inv}
		p.nodes = append(p.nodes, n)
		p.byScheme[cfg.Driver.Scheme()] = n
	}

	dedup, err := durable.Open[string](dataDir, "dedup-index")
	if err != nil {
		return nil, fmt.Errorf("storagepool: opening dedup index: %w", err)
	}
	p.dedupIndex = dedup

	worm, err := durable.Open[time.Time](dataDir, "worm-registry")
	if err != nil {
		return nil, fmt.Errorf("storagepool: opening WORM registry: %w", err)
	}
	p.wormIndex = worm

	return p, nil
}

// Close releases every node's inventory and the pool-wide registries.
func (p *Pool) Close() error {
	var firstErr error
	for _, n := range p.nodes {
		if err := n.inventory.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := p.dedupIndex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := p.wormIndex.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// LookupHash lets a caller pre-check whether content is already in the
// pool before uploading it (spec §4.5's deduplication index).
func (p *Pool) LookupHash(hash string) (string, bool) {
	return p.dedupIndex.TryGet(hash)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Put implements the write path (spec §4.5): choose a tier from intent,
// pick the node with maximal free space in that tier, stream to a
// staging URI while hashing incrementally, then promote to the final
// content-addressed URI (or drop the staging copy on a dedup hit).
func (p *Pool) Put(ctx context.Context, containerID, ownerID string, r io.Reader, intent StorageIntent) (BlobManifest, error) {
	tier := tierFor(intent)
	n := pickNode(p.nodes, tier)
	if n == nil {
		return BlobManifest{}, ErrNoNodeAvailable
	}

	scheme := n.driver.Scheme()
	stagingURI := fmt.Sprintf("%s://pool/staging-%s", scheme, uuid.NewString())

	hasher := sha256.New()
	counting := &countingReader{r: io.TeeReader(r, hasher)}
	if err := n.driver.Save(ctx, stagingURI, counting); err != nil {
		return BlobManifest{}, fmt.Errorf("storagepool: staging write: %w", err)
	}

	hash := hex.EncodeToString(hasher.Sum(nil))
	finalURI := fmt.Sprintf("%s://pool/%s", scheme, hash)

	exists, err := n.driver.Exists(ctx, finalURI)
	if err != nil {
		return BlobManifest{}, fmt.Errorf("storagepool: checking dedup on node: %w", err)
	}
	if exists {
		if err := n.driver.Delete(ctx, stagingURI); err != nil {
			return BlobManifest{}, fmt.Errorf("storagepool: discarding staging copy: %w", err)
		}
	} else if err := p.promote(ctx, n, stagingURI, finalURI); err != nil {
		return BlobManifest{}, err
	}

	if _, ok := p.dedupIndex.TryGet(hash); !ok {
		if err := p.dedupIndex.Set(hash, finalURI); err != nil {
			return BlobManifest{}, fmt.Errorf("storagepool: registering dedup index: %w", err)
		}
	}

	now := p.clock.NowUTC()
	manifest := BlobManifest{
		ID:             uuid.NewString(),
		ContainerID:    containerID,
		BlobURI:        finalURI,
		OwnerID:        ownerID,
		CreatedAt:      now,
		LastAccessedAt: now,
		SizeBytes:      counting.n,
		CurrentTier:    tier,
		ContentHash:    hash,
	}
	if err := n.inventory.put(manifest); err != nil {
		return BlobManifest{}, fmt.Errorf("storagepool: recording manifest: %w", err)
	}
	return manifest, nil
}

// promote moves a staged write to its final URI, preferring an atomic
// Rename when the driver supports it and falling back to copy+delete.
func (p *Pool) promote(ctx context.Context, n *node, stagingURI, finalURI string) error {
	if renamer, ok := n.driver.(Renamer); ok {
		if err := renamer.Rename(ctx, stagingURI, finalURI); err != nil {
			return fmt.Errorf("storagepool: promoting staging write: %w", err)
		}
		return nil
	}

	rc, err := n.driver.Load(ctx, stagingURI)
	if err != nil {
		return fmt.Errorf("storagepool: reading staging copy: %w", err)
	}
	defer rc.Close()
	if err := n.driver.Save(ctx, finalURI, rc); err != nil {
		return fmt.Errorf("storagepool: writing final copy: %w", err)
	}
	if err := n.driver.Delete(ctx, stagingURI); err != nil {
		return fmt.Errorf("storagepool: removing staging copy: %w", err)
	}
	return nil
}

func (p *Pool) nodeForURI(uri string) (*node, error) {
	for scheme, n := range p.byScheme {
		if len(uri) > len(scheme)+3 && uri[:len(scheme)] == scheme && uri[len(scheme):len(scheme)+3] == "://" {
			return n, nil
		}
	}
	return nil, fmt.Errorf("storagepool: no node mounted for uri %s", uri)
}

// Get resolves uri to its node by scheme and streams its content. The
// caller must close the returned stream on every exit path.
func (p *Pool) Get(ctx context.Context, uri string) (io.ReadCloser, error) {
	n, err := p.nodeForURI(uri)
	if err != nil {
		return nil, err
	}
	return n.driver.Load(ctx, uri)
}

// MoveToTier relocates manifest's blob into targetTier, preserving its
// content-addressed suffix (spec §4.5's tier migration). A failure
// before the source delete leaves both copies in place; callers retry.
func (p *Pool) MoveToTier(ctx context.Context, manifest BlobManifest, targetTier Tier) (BlobManifest, error) {
	source, err := p.nodeForURI(manifest.BlobURI)
	if err != nil {
		return BlobManifest{}, err
	}
	target := pickNode(p.nodes, targetTier)
	if target == nil {
		return BlobManifest{}, ErrNoNodeAvailable
	}
	if target.id == source.id {
		return manifest, nil
	}

	targetURI := fmt.Sprintf("%s://pool/%s", target.driver.Scheme(), manifest.ContentHash)

	rc, err := source.driver.Load(ctx, manifest.BlobURI)
	if err != nil {
		return BlobManifest{}, fmt.Errorf("storagepool: reading source for migration: %w", err)
	}
	if err := target.driver.Save(ctx, targetURI, rc); err != nil {
		rc.Close()
		return BlobManifest{}, fmt.Errorf("storagepool: writing target for migration: %w", err)
	}
	rc.Close()

	ok, err := target.driver.Exists(ctx, targetURI)
	if err != nil {
		return BlobManifest{}, fmt.Errorf("storagepool: verifying migration: %w", err)
	}
	if !ok {
		return BlobManifest{}, fmt.Errorf("storagepool: migration verification failed for %s", targetURI)
	}

	updated := manifest
	updated.BlobURI = targetURI
	updated.CurrentTier = targetTier
	if err := target.inventory.put(updated); err != nil {
		return BlobManifest{}, fmt.Errorf("storagepool: recording migrated manifest: %w", err)
	}

	if err := source.driver.Delete(ctx, manifest.BlobURI); err != nil {
		// Both copies now exist; safe, the caller can retry the delete.
		return updated, fmt.Errorf("storagepool: deleting source after migration: %w", err)
	}
	if err := source.inventory.delete(manifest.ContentHash); err != nil {
		return updated, fmt.Errorf("storagepool: removing source manifest: %w", err)
	}

	return updated, nil
}

// LockBlob records a WORM retention lock. An existing expiry is only
// replaced if the new one is strictly greater (spec §4.5, I7).
func (p *Pool) LockBlob(uri string, retention time.Duration) error {
	expiry := p.clock.NowUTC().Add(retention)
	if existing, ok := p.wormIndex.TryGet(uri); ok && !expiry.After(existing) {
		return nil
	}
	return p.wormIndex.Set(uri, expiry)
}

// AssertAccess fails with ErrWormViolation when isDelete is true and uri
// is still within its WORM retention window.
func (p *Pool) AssertAccess(uri string, isDelete bool) error {
	if !isDelete {
		return nil
	}
	expiry, ok := p.wormIndex.TryGet(uri)
	if !ok {
		return nil
	}
	if p.clock.NowUTC().Before(expiry) {
		return ErrWormViolation
	}
	return nil
}

// Delete removes uri's blob after checking WORM access.
func (p *Pool) Delete(ctx context.Context, uri, contentHash string) error {
	if err := p.AssertAccess(uri, true); err != nil {
		return err
	}
	n, err := p.nodeForURI(uri)
	if err != nil {
		return err
	}
	if err := n.driver.Delete(ctx, uri); err != nil {
		return fmt.Errorf("storagepool: deleting %s: %w", uri, err)
	}
	if err := n.inventory.delete(contentHash); err != nil {
		return fmt.Errorf("storagepool: removing manifest for %s: %w", uri, err)
	}
	if existing, ok := p.dedupIndex.TryGet(contentHash); ok && existing == uri {
		if err := p.dedupIndex.Remove(contentHash); err != nil {
			return fmt.Errorf("storagepool: removing dedup entry for %s: %w", uri, err)
		}
	}
	return nil
}

// TierObjectCounts satisfies metrics.PoolStats.
func (p *Pool) TierObjectCounts() map[string]int64 {
	counts := make(map[string]int64)
	for _, n := range p.nodes {
		c, err := n.inventory.count()
		if err != nil {
			continue
		}
		counts[string(n.tier)] += int64(c)
	}
	return counts
}

// TierByteTotals satisfies metrics.PoolStats.
func (p *Pool) TierByteTotals() map[string]int64 {
	totals := make(map[string]int64)
	for _, n := range p.nodes {
		used, err := n.inventory.usedBytes()
		if err != nil {
			continue
		}
		totals[string(n.tier)] += used
	}
	return totals
}
