package storagepool

import "time"

// Tier is one of the pool's three storage classes.
type Tier string

const (
	Hot  Tier = "Hot"
	Warm Tier = "Warm"
	Cold Tier = "Cold"
)

// CompressionMode is part of a caller's StorageIntent.
type CompressionMode string

const (
	CompressionNone     CompressionMode = "None"
	CompressionStandard CompressionMode = "Standard"
)

// AvailabilityMode is part of a caller's StorageIntent.
type AvailabilityMode string

const (
	AvailabilitySingle       AvailabilityMode = "Single"
	AvailabilityGeoRedundant AvailabilityMode = "GeoRedundant"
)

// StorageIntent drives tier placement on write (spec §4.5's write path
// step 1).
type StorageIntent struct {
	Compression  CompressionMode
	Availability AvailabilityMode
}

// tierFor implements the placement rule: None compression and single
// availability places in Hot; GeoRedundant places in Cold; everything
// else lands in Warm.
func tierFor(intent StorageIntent) Tier {
	if intent.Availability == AvailabilityGeoRedundant {
		return Cold
	}
	if intent.Compression == CompressionNone && intent.Availability == AvailabilitySingle {
		return Hot
	}
	return Warm
}

// BlobManifest describes one stored blob (spec §3's blob manifest).
type BlobManifest struct {
	ID             string
	ContainerID    string
	BlobURI        string
	OwnerID        string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	SizeBytes      int64
	CurrentTier    Tier
	ContentHash    string
	WormExpiresAt  *time.Time
}
