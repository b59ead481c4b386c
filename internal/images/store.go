// Package images holds uploaded images for the duration of their search window.
package images

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when an image id is unknown or already expired.
	ErrNotFound = errors.New("image not found or expired")
	// ErrTooLarge is returned when an image exceeds the configured size cap.
	ErrTooLarge = errors.New("image too large")
)

// Image is a stored upload.
type Image struct {
	ID          string    `json:"image_id"`
	ContentType string    `json:"content_type"`
	Source      string    `json:"source"` // "upload", "url", "path", "b64"
	ExpiresAt   time.Time `json:"expires_at"`
	Data        []byte    `json:"-"`
}

// StoreConfig configures the image store.
type StoreConfig struct {
	// TTL is how long an uploaded image stays referenceable (default 1h).
	TTL time.Duration
	// MaxBytes caps a single image (default 20 MiB).
	MaxBytes int64
	// MaxEntries caps the store; the oldest entry is evicted when full.
	MaxEntries int
}

// DefaultStoreConfig returns the deployed defaults.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		TTL:        time.Hour,
		MaxBytes:   20 << 20,
		MaxEntries: 256,
	}
}

// Store is an in-memory image store with TTL eviction.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Image
	config  *StoreConfig

	stopJanitor chan struct{}
	stopOnce    sync.Once

	now func() time.Time // test hook
}

// NewStore creates a store and starts its eviction janitor.
func NewStore(config *StoreConfig) *Store {
	if config == nil {
		config = DefaultStoreConfig()
	}
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = 20 << 20
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 256
	}

	s := &Store{
		entries:     make(map[string]Image),
		config:      config,
		stopJanitor: make(chan struct{}),
		now:         time.Now,
	}
	go s.janitor()
	return s
}

// Put stores image bytes and returns the entry with its id and expiry.
func (s *Store) Put(data []byte, contentType, source string) (Image, error) {
	if len(data) == 0 {
		return Image{}, fmt.Errorf("empty image data")
	}
	if int64(len(data)) > s.config.MaxBytes {
		return Image{}, fmt.Errorf("%w: %d bytes exceeds cap of %d", ErrTooLarge, len(data), s.config.MaxBytes)
	}

	img := Image{
		ID:          uuid.NewString(),
		ContentType: contentType,
		Source:      source,
		ExpiresAt:   s.now().Add(s.config.TTL),
		Data:        data,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= s.config.MaxEntries {
		s.evictOldestLocked()
	}
	s.entries[img.ID] = img
	return img, nil
}

// Get returns a stored image. Expired entries behave as absent.
func (s *Store) Get(id string) (Image, error) {
	s.mu.RLock()
	img, ok := s.entries[id]
	s.mu.RUnlock()

	if !ok || s.now().After(img.ExpiresAt) {
		return Image{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return img, nil
}

// Len returns the number of stored entries, expired ones included until
// the janitor collects them.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the eviction janitor.
func (s *Store) Close() {
	s.stopOnce.Do(func() {
		close(s.stopJanitor)
	})
}

func (s *Store) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopJanitor:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *Store) evictExpired() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, img := range s.entries {
		if now.After(img.ExpiresAt) {
			delete(s.entries, id)
		}
	}
}

// evictOldestLocked drops the entry closest to expiry. Caller holds the lock.
func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, img := range s.entries {
		if oldestID == "" || img.ExpiresAt.Before(oldest) {
			oldestID = id
			oldest = img.ExpiresAt
		}
	}
	if oldestID != "" {
		delete(s.entries, oldestID)
	}
}
