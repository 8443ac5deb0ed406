package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"zen.app/cloud/internal/logger"
	"zen.app/cloud/models"
)

// FileStorage keeps licenses in memory and rewrites a JSON snapshot of the
// whole set after every insert.
type FileStorage struct {
	path string
	mem  *MemoryStorage
	wmu  sync.Mutex
}

func NewFileStorage(path string) (*FileStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("file storage path is required")
	}
	fs := &FileStorage{
		path: path,
		mem:  NewMemoryStorage(),
	}
	if err := fs.loadFromFile(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStorage) loadFromFile() error {
	file, err := os.Open(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info("License file does not exist, starting with empty database", map[string]interface{}{
				"path": f.path,
			})
			return nil
		}
		return fmt.Errorf("failed to open license file: %w", err)
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Warn("Failed to close license file", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	var licenses []models.License
	if err := json.NewDecoder(file).Decode(&licenses); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}

	for i := range licenses {
		if !licenses[i].Tier.Valid() {
			return fmt.Errorf("license %s has unknown tier %q", licenses[i].ID, licenses[i].Tier)
		}
		if err := f.mem.InsertLicense(context.Background(), &licenses[i]); err != nil {
			return fmt.Errorf("failed to load license %s: %w", licenses[i].ID, err)
		}
	}

	return nil
}

// writeToFile replaces the snapshot atomically via a temp file and rename.
func (f *FileStorage) writeToFile() error {
	data, err := json.MarshalIndent(f.mem.all(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode licenses: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write licenses: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace license file: %w", err)
	}
	return nil
}

func (f *FileStorage) InsertLicense(ctx context.Context, license *models.License) error {
	f.wmu.Lock()
	defer f.wmu.Unlock()

	if err := f.mem.InsertLicense(ctx, license); err != nil {
		return err
	}
	if err := f.writeToFile(); err != nil {
		f.mem.remove(license.ID)
		return err
	}
	return nil
}

func (f *FileStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	return f.mem.FindLicenseByKey(ctx, key)
}

func (f *FileStorage) FindLicenseBySessionID(ctx context.Context, sessionID string) (*models.License, error) {
	return f.mem.FindLicenseBySessionID(ctx, sessionID)
}

func (f *FileStorage) FindLicensesByEmail(ctx context.Context, email string) ([]*models.License, error) {
	return f.mem.FindLicensesByEmail(ctx, email)
}

func (f *FileStorage) CountLicensesByTier(ctx context.Context, tier models.Tier) (int, error) {
	return f.mem.CountLicensesByTier(ctx, tier)
}

func (f *FileStorage) Close() error {
	return nil
}
