// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package offline provides storages for frames the client could not
// deliver.
//
// Both storages satisfy wappsto.OfflineStorage:
//
//	store, err := offline.NewFileStorage("./offline")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := wappsto.Open(ctx, "./config", wappsto.WithOfflineStorage(store))
package offline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/netascode/go-wappsto"
)

// FileSuffix is the extension of stored frame files
const FileSuffix = ".data"

// FileStorage keeps one file per frame in a directory
//
// File names are a monotonically increasing nanosecond count, so sorting
// them by name yields the save order. Frames left over from a previous run
// are picked up when the storage is created.
type FileStorage struct {
	dir string

	mu    sync.Mutex
	files []string
	last  int64
}

var _ wappsto.OfflineStorage = (*FileStorage)(nil)

// NewFileStorage opens (and creates when missing) the directory dir
func NewFileStorage(dir string) (*FileStorage, error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("offline storage %s is not a directory", filepath.Base(dir))
	case errors.Is(err, os.ErrNotExist):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create offline storage: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("open offline storage: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read offline storage: %w", err)
	}
	s := &FileStorage{dir: dir}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, FileSuffix) {
			continue
		}
		s.files = append(s.files, name)
		if n, err := strconv.ParseInt(strings.TrimSuffix(name, FileSuffix), 10, 64); err == nil && n > s.last {
			s.last = n
		}
	}
	sort.Strings(s.files)
	return s, nil
}

// Dir returns the storage directory
func (s *FileStorage) Dir() string {
	return s.dir
}

// Save writes data to a new file
func (s *FileStorage) Save(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := time.Now().UnixNano()
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n

	// Zero padding keeps name order equal to numeric order
	name := fmt.Sprintf("%020d%s", n, FileSuffix)
	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(data), 0o600); err != nil {
		return fmt.Errorf("save frame: %w", err)
	}
	s.files = append(s.files, name)
	return nil
}

// Load removes and returns up to max frames, oldest first
//
// A file that cannot be read is skipped and left in place.
func (s *FileStorage) Load(max int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if max <= 0 || max > len(s.files) {
		max = len(s.files)
	}
	batch := s.files[:max]
	s.files = s.files[max:]

	var out []string
	var errs []error
	for _, name := range batch {
		path := filepath.Join(s.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("load %s: %w", name, err))
			continue
		}
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
		out = append(out, string(data))
	}
	if len(out) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

// Len returns the number of stored frames
func (s *FileStorage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}
