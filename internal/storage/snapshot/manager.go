package snapshot

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	filePrefix    = "snapshot-"
	fileExtension = ".snap"

	DefaultRetentionCount = 3
	DefaultRetentionDays  = 7
)

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrNoSnapshots      = errors.New("snapshot: no snapshots available")
	ErrRecordTooLarge   = errors.New("snapshot: record too large")
)

// Config configures a Manager.
type Config struct {
	Dir string

	// Prune keeps the newest RetentionCount snapshots and every snapshot
	// younger than RetentionDays. The newest one always survives.
	RetentionCount int
	RetentionDays  int

	// Service is written into each header so PS and ITS snapshots can be
	// told apart.
	Service string
}

func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		RetentionCount: DefaultRetentionCount,
		RetentionDays:  DefaultRetentionDays,
	}
}

// Manager owns the snapshot files of one directory.
type Manager struct {
	cfg Config
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}
	if cfg.RetentionCount == 0 {
		cfg.RetentionCount = DefaultRetentionCount
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	return &Manager{cfg: cfg}, nil
}

// Info describes one snapshot file.
type Info struct {
	ID string `json:"id"`

	// WALLastOffset is the composite WAL offset (segmentID<<32 | offset)
	// the snapshot covers.
	WALLastOffset uint64 `json:"wal_last_offset"`

	RecordCount int64  `json:"record_count"`
	CreatedAt   int64  `json:"created_at"`
	Size        int64  `json:"size"`
	Path        string `json:"path"`
	Checksum    string `json:"checksum,omitempty"`
	Service     string `json:"service,omitempty"`
}

// Create durably writes records as a new snapshot covering the WAL up to
// walLastOffset.
func (m *Manager) Create(records [][]byte, walLastOffset uint64) (*Info, error) {
	now := time.Now()
	id := m.generateID(now)
	hdr := header{
		CreatedAt:     now.UnixMilli(),
		Service:       m.cfg.Service,
		RecordCount:   uint64(len(records)),
		WALLastOffset: walLastOffset,
	}

	tmp := filepath.Join(m.cfg.Dir, id+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("snapshot: create temp file: %w", err)
	}
	defer os.Remove(tmp)

	sum, err := encode(f, hdr, records)
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: write %s: %w", id, err)
	}

	fi, err := os.Stat(tmp)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(m.cfg.Dir, id+fileExtension)
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("snapshot: rename: %w", err)
	}
	if err := syncDir(m.cfg.Dir); err != nil {
		return nil, fmt.Errorf("snapshot: sync dir: %w", err)
	}

	return &Info{
		ID:            id,
		WALLastOffset: walLastOffset,
		RecordCount:   int64(len(records)),
		CreatedAt:     hdr.CreatedAt,
		Size:          fi.Size(),
		Path:          path,
		Checksum:      hex.EncodeToString(sum),
		Service:       m.cfg.Service,
	}, nil
}

// Load returns the records of the newest snapshot that verifies. Files
// with a bad checksum or magic are skipped in favour of older ones.
func (m *Manager) Load() ([][]byte, *Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, nil, err
	}
	for i := len(infos) - 1; i >= 0; i-- {
		records, info, err := m.read(infos[i].Path)
		switch {
		case err == nil:
			return records, info, nil
		case errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrInvalidMagic):
			continue
		default:
			return nil, nil, err
		}
	}
	return nil, nil, ErrNoSnapshots
}

func (m *Manager) read(path string) ([][]byte, *Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}

	hdr, records, sum, err := decode(f, fi.Size())
	if err != nil {
		return nil, nil, err
	}
	return records, &Info{
		ID:            snapshotID(path),
		WALLastOffset: hdr.WALLastOffset,
		RecordCount:   int64(hdr.RecordCount),
		CreatedAt:     hdr.CreatedAt,
		Size:          fi.Size(),
		Path:          path,
		Checksum:      hex.EncodeToString(sum),
		Service:       hdr.Service,
	}, nil
}

func snapshotID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), fileExtension)
}

func isSnapshotName(name string) bool {
	return strings.HasPrefix(name, filePrefix) && strings.HasSuffix(name, fileExtension)
}

// List returns file metadata for every snapshot, oldest first. Headers
// are not read, so CreatedAt is the file's modification time.
func (m *Manager) List() ([]*Info, error) {
	ents, err := os.ReadDir(m.cfg.Dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var infos []*Info
	for _, e := range ents {
		if e.IsDir() || !isSnapshotName(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(m.cfg.Dir, e.Name())
		infos = append(infos, &Info{
			ID:        snapshotID(path),
			Path:      path,
			Size:      fi.Size(),
			CreatedAt: fi.ModTime().UnixMilli(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

// Prune deletes the snapshots the retention policy no longer covers.
func (m *Manager) Prune() error {
	infos, err := m.List()
	if err != nil || len(infos) <= 1 {
		return err
	}

	cutoff := time.Now().AddDate(0, 0, -m.cfg.RetentionDays).UnixMilli()
	newest := len(infos) - 1
	var errs []error
	for i, info := range infos {
		byCount := m.cfg.RetentionCount > 0 && i >= len(infos)-m.cfg.RetentionCount
		byAge := m.cfg.RetentionDays > 0 && info.CreatedAt > cutoff
		if i == newest || byCount || byAge {
			continue
		}
		if err := os.Remove(info.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// generateID names a snapshot after its UTC creation second and a
// sequence one past the highest already used for that second.
func (m *Manager) generateID(t time.Time) string {
	prefix := filePrefix + t.UTC().Format("20060102150405") + "-"
	seq := 0
	ents, _ := os.ReadDir(m.cfg.Dir)
	for _, e := range ents {
		rest, ok := strings.CutPrefix(e.Name(), prefix)
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSuffix(rest, fileExtension)); err == nil && n > seq {
			seq = n
		}
	}
	return fmt.Sprintf("%s%04d", prefix, seq+1)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
