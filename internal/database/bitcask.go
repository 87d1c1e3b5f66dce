package database

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go-eodms-download/internal/models"

	"git.mills.io/prologic/bitcask"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a key is not found in the database.
var ErrNotFound = errors.New("key not found")

// gzipMagicBytes are the first two bytes of a gzip file.
var gzipMagicBytes = []byte{0x1f, 0x8b}

// DB wraps the bitcask database instance and provides helper methods. It
// holds the cross-run download state: one entry per ordered record, so a
// later run knows what has already been fetched and verified.
type DB struct {
	db           *bitcask.Bitcask
	sync.RWMutex // Embed mutex for concurrent access control
}

// Open initializes and returns a DB instance.
func Open(path string) (*DB, error) {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	dbInstance, err := bitcask.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bitcask database at %s: %w", path, err)
	}
	log.Infof("Database opened successfully at %s", path)
	return &DB{db: dbInstance}, nil
}

// Close safely closes the database connection.
func (d *DB) Close() error {
	log.Info("Closing database...")
	d.Lock()
	defer d.Unlock()
	return d.db.Close()
}

// Has checks if a key exists in the database.
func (d *DB) Has(key []byte) bool {
	d.RLock()
	defer d.RUnlock()
	return d.db.Has(key)
}

// Get retrieves the value associated with a key and decompresses it if necessary.
func (d *DB) Get(key []byte) ([]byte, error) {
	d.RLock()
	value, err := d.db.Get(key)
	d.RUnlock()

	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error getting key %s: %w", string(key), err)
	}

	return decompressIfGzipped(value)
}

// Put compresses and stores a key-value pair in the database.
func (d *DB) Put(key []byte, value []byte) error {
	compressedValue, err := compressGzip(value, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("error compressing value for key %s: %w", string(key), err)
	}

	d.Lock()
	err = d.db.Put(key, compressedValue)
	d.Unlock()
	if err != nil {
		return fmt.Errorf("error putting compressed key %s: %w", string(key), err)
	}
	return nil
}

// Delete removes a key from the database.
func (d *DB) Delete(key []byte) error {
	d.Lock()
	err := d.db.Delete(key)
	d.Unlock()
	if err != nil {
		if errors.Is(err, bitcask.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("error deleting key %s: %w", string(key), err)
	}
	return nil
}

// Fold iterates over all key-value pairs, decompresses the value,
// and calls the provided function.
func (d *DB) Fold(fn func(key []byte, value []byte) error) error {
	d.RLock()
	defer d.RUnlock()

	err := d.db.Fold(func(key []byte) error {
		// Keep the main read lock for the duration of Fold
		rawValue, err := d.db.Get(key)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error getting value for key %s", string(key))
			return nil
		}

		value, err := decompressIfGzipped(rawValue)
		if err != nil {
			log.WithError(err).Warnf("Fold: Error decompressing value for key %s", string(key))
			return nil
		}

		return fn(key, value)
	})

	return err
}

// Keys returns a channel of all keys in the database.
// Read from the channel until it is closed.
// Ensure the database is not closed while iterating.
func (d *DB) Keys() <-chan []byte {
	d.RLock()
	keysChan := d.db.Keys()
	monitoredChan := make(chan []byte)

	go func() {
		defer d.RUnlock()
		for key := range keysChan {
			monitoredChan <- key
		}
		close(monitoredChan)
	}()

	return monitoredChan
}

// --- Download State Helpers ---

// EntryKey builds the database key for one ordered record.
func EntryKey(collectionID, recordID string) []byte {
	return []byte(fmt.Sprintf("rec_%s_%s", collectionID, recordID))
}

// StoreEntry serializes and stores a download entry keyed by its record.
func (d *DB) StoreEntry(entry models.DownloadEntry) error {
	if entry.RecordID == "" || entry.CollectionID == "" {
		return errors.New("cannot store download entry: missing record or collection id")
	}

	dataBytes, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("error marshalling download entry for record %s: %w", entry.RecordID, err)
	}

	key := EntryKey(entry.CollectionID, entry.RecordID)
	log.Debugf("Storing download entry with key %s", string(key))
	return d.Put(key, dataBytes)
}

// GetEntry retrieves the download entry for a record, or ErrNotFound.
func (d *DB) GetEntry(collectionID, recordID string) (models.DownloadEntry, error) {
	var entry models.DownloadEntry
	data, err := d.Get(EntryKey(collectionID, recordID))
	if err != nil {
		return entry, err
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return entry, fmt.Errorf("error unmarshalling download entry for record %s: %w", recordID, err)
	}
	return entry, nil
}

// HasEntry checks whether a record already has a download entry.
func (d *DB) HasEntry(collectionID, recordID string) bool {
	return d.Has(EntryKey(collectionID, recordID))
}

// DeleteEntry removes the download entry for a record.
func (d *DB) DeleteEntry(collectionID, recordID string) error {
	return d.Delete(EntryKey(collectionID, recordID))
}

// ListEntries returns every stored download entry, optionally filtered by
// status ("" matches all).
func (d *DB) ListEntries(status string) ([]models.DownloadEntry, error) {
	var entries []models.DownloadEntry
	err := d.Fold(func(key []byte, value []byte) error {
		if !bytes.HasPrefix(key, []byte("rec_")) {
			return nil
		}
		var entry models.DownloadEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			log.WithError(err).Warnf("Skipping malformed download entry %s", string(key))
			return nil
		}
		if status != "" && entry.Status != status {
			return nil
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// --- Compression Helpers ---

// decompressIfGzipped decompresses the value if it is gzipped.
func decompressIfGzipped(value []byte) ([]byte, error) {
	if bytes.HasPrefix(value, gzipMagicBytes) {
		bReader := bytes.NewReader(value)
		gReader, err := gzip.NewReader(bReader)
		if err != nil {
			log.WithError(err).Warnf("Error creating gzip reader for value, returning raw data.")
			return value, nil
		}
		defer gReader.Close()

		decompressedValue, err := io.ReadAll(gReader)
		if err != nil {
			log.WithError(err).Warnf("Error decompressing value, returning raw data.")
			return value, nil
		}
		return decompressedValue, nil
	}

	return value, nil
}

// compressGzip compresses the value using gzip with the specified compression level.
func compressGzip(value []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	gWriter, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("error creating gzip writer for value: %w", err)
	}
	_, err = gWriter.Write(value)
	if err != nil {
		_ = gWriter.Close()
		return nil, fmt.Errorf("error writing compressed data for value: %w", err)
	}
	err = gWriter.Close() // Close *must* be called to flush buffers
	if err != nil {
		return nil, fmt.Errorf("error closing gzip writer for value: %w", err)
	}

	return buf.Bytes(), nil
}
