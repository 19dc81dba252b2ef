package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/internal/accounts"
	"github.com/celerix-dev/celerix-gacha/internal/atomicfile"
	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/model"
	"github.com/celerix-dev/celerix-gacha/pkg/schema"
)

// ErrNotFound is returned when an account has no ledger or metadata file yet.
var ErrNotFound = errors.New("ledger not found")

const (
	filePerm = 0o644
	dirPerm  = 0o755
)

// Store keeps one ledger and one metadata file per account below a users
// directory. Every write rewrites both files in full.
type Store struct {
	layout accounts.Layout
	logger *zap.Logger
	now    func() time.Time

	mu sync.Mutex // serializes read-merge-write cycles
}

// NewStore returns a Store rooted at usersDir.
func NewStore(usersDir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		layout: accounts.Layout{Root: usersDir},
		logger: logger.Named("ledger"),
		now:    time.Now,
	}
}

func (s *Store) paths(user, gameUID string) (data, meta string, err error) {
	dir, err := s.layout.AccountDir(user, gameUID)
	if err != nil {
		return "", "", err
	}
	return filepath.Join(dir, accounts.DataFile), filepath.Join(dir, accounts.MetadataFile), nil
}

// Save transforms draws and merges them into the stored ledger of gameUID,
// fresh events replacing stored ones with the same key.
func (s *Store) Save(user, gameUID string, draws []model.RawDraw) (schema.Metadata, error) {
	meta, stats, err := s.merge(user, gameUID, Transform(draws))
	if err != nil {
		return meta, err
	}
	s.logger.Info("ledger saved",
		zap.String("user", accounts.ResolveUser(user)),
		zap.String("game_uid", gameUID),
		zap.Int("draws", len(draws)),
		zap.Int("added", stats.Added),
		zap.Int("replaced", stats.Replaced),
		zap.Int("events", meta.RecordCount),
	)
	return meta, nil
}

// SaveIncremental merges only newly fetched draws. It shares Save's merge
// path, so the on-disk result is the same.
func (s *Store) SaveIncremental(user, gameUID string, draws []model.RawDraw) (schema.Metadata, error) {
	meta, stats, err := s.merge(user, gameUID, Transform(draws))
	if err != nil {
		return meta, err
	}
	s.logger.Info("ledger saved incrementally",
		zap.String("user", accounts.ResolveUser(user)),
		zap.String("game_uid", gameUID),
		zap.Int("draws", len(draws)),
		zap.Int("added", stats.Added),
		zap.Int("events", meta.RecordCount),
	)
	return meta, nil
}

func (s *Store) merge(user, gameUID string, fresh schema.Ledger) (schema.Metadata, MergeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(user, gameUID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return schema.Metadata{}, MergeStats{}, err
	}

	merged, stats := Merge(existing, fresh)
	for _, k := range stats.Collisions {
		s.logger.Warn("event replaced by different content",
			zap.String("game_uid", gameUID),
			zap.String("key", k),
		)
	}

	meta, err := s.write(user, gameUID, merged)
	return meta, stats, err
}

// Update applies fn to the stored ledger (empty if none) and writes the
// result back under the store lock.
func (s *Store) Update(user, gameUID string, fn func(schema.Ledger) (schema.Ledger, error)) (schema.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.load(user, gameUID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return schema.Metadata{}, err
	}
	if existing == nil {
		existing = schema.Ledger{}
	}
	next, err := fn(existing)
	if err != nil {
		return schema.Metadata{}, err
	}
	return s.write(user, gameUID, next)
}

// write encodes the whole ledger in memory and stages both files before either
// is renamed, so an encode or staging failure leaves the previous files in place.
func (s *Store) write(user, gameUID string, l schema.Ledger) (schema.Metadata, error) {
	dataPath, metaPath, err := s.paths(user, gameUID)
	if err != nil {
		return schema.Metadata{}, err
	}

	data, err := EncodeCompact(l)
	if err != nil {
		return schema.Metadata{}, fmt.Errorf("%w: encode ledger: %w", errs.ErrStorage, err)
	}
	meta := schema.Metadata{
		LastUpdate:  s.now().Format(time.RFC3339),
		GameUID:     gameUID,
		RecordCount: len(l),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return schema.Metadata{}, fmt.Errorf("%w: encode metadata: %w", errs.ErrStorage, err)
	}

	err = atomicfile.WriteFiles([]atomicfile.File{
		{Path: dataPath, Data: data},
		{Path: metaPath, Data: append(metaBytes, '\n')},
	}, filePerm, dirPerm)
	if err != nil {
		return schema.Metadata{}, fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	return meta, nil
}

// Load returns the stored ledger of gameUID.
func (s *Store) Load(user, gameUID string) (schema.Ledger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(user, gameUID)
}

func (s *Store) load(user, gameUID string) (schema.Ledger, error) {
	dataPath, _, err := s.paths(user, gameUID)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(dataPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dataPath)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	l, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrStorage, dataPath, err)
	}
	return l, nil
}

// LoadMetadata returns the metadata written by the last save.
func (s *Store) LoadMetadata(user, gameUID string) (schema.Metadata, error) {
	_, metaPath, err := s.paths(user, gameUID)
	if err != nil {
		return schema.Metadata{}, err
	}
	raw, err := os.ReadFile(metaPath)
	if errors.Is(err, fs.ErrNotExist) {
		return schema.Metadata{}, fmt.Errorf("%w: %s", ErrNotFound, metaPath)
	}
	if err != nil {
		return schema.Metadata{}, fmt.Errorf("%w: %w", errs.ErrStorage, err)
	}
	var meta schema.Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return schema.Metadata{}, fmt.Errorf("%w: %s: %w", errs.ErrStorage, metaPath, err)
	}
	return meta, nil
}
