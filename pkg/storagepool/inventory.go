package storagepool

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var bucketManifests = []byte("manifests")

// inventory is one node's durable record of every blob manifest it
// holds, keyed by content hash. Grounded on the teacher's bucket-per-
// concern bbolt layout.
type inventory struct {
	db *bolt.DB
}

func openInventory(dataDir, nodeID string) (*inventory, error) {
	path := filepath.Join(dataDir, nodeID+"-inventory.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("storagepool: opening inventory for %s: %w", nodeID, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketManifests)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storagepool: creating inventory bucket for %s: %w", nodeID, err)
	}
	return &inventory{db: db}, nil
}

func (inv *inventory) close() error {
	return inv.db.Close()
}

func (inv *inventory) put(manifest BlobManifest) error {
	return inv.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests)
		data, err := json.Marshal(manifest)
		if err != nil {
			return err
		}
		return b.Put([]byte(manifest.ContentHash), data)
	})
}

func (inv *inventory) get(contentHash string) (BlobManifest, bool, error) {
	var manifest BlobManifest
	found := false
	err := inv.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests)
		data := b.Get([]byte(contentHash))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &manifest)
	})
	return manifest, found, err
}

func (inv *inventory) delete(contentHash string) error {
	return inv.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketManifests).Delete([]byte(contentHash))
	})
}

// usedBytes sums SizeBytes across every manifest currently recorded.
func (inv *inventory) usedBytes() (int64, error) {
	var total int64
	err := inv.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests)
		return b.ForEach(func(k, v []byte) error {
			var manifest BlobManifest
			if err := json.Unmarshal(v, &manifest); err != nil {
				return err
			}
			total += manifest.SizeBytes
			return nil
		})
	})
	return total, err
}

// count returns how many manifests are currently recorded.
func (inv *inventory) count() (int, error) {
	n := 0
	err := inv.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests)
		return b.ForEach(func(k, v []byte) error {
			n++
			return nil
		})
	})
	return n, err
}
