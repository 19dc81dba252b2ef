// Package fetcher downloads every draw record of an account, category by
// category, following the remote service's cursor pagination.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-gacha/internal/errs"
	"github.com/celerix-dev/celerix-gacha/internal/model"
	"github.com/celerix-dev/celerix-gacha/internal/remote"
)

const (
	DefaultPageSize  = 50
	DefaultPageDelay = 500 * time.Millisecond
)

// Session is the subset of *remote.Session the fetcher needs.
type Session interface {
	Endpoints() remote.Endpoints
	Envelope(ctx context.Context, call remote.Call) (*remote.Envelope, error)
}

// Fetcher walks categories and pages sequentially.
type Fetcher struct {
	pageSize  int
	pageDelay time.Duration
	sleep     func(time.Duration)
	logger    *zap.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithPageSize sets the number of records requested per page.
func WithPageSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.pageSize = n
		}
	}
}

// WithPageDelay sets the pause between consecutive pages of one category.
func WithPageDelay(d time.Duration) Option {
	return func(f *Fetcher) {
		if d >= 0 {
			f.pageDelay = d
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		pageSize:  DefaultPageSize,
		pageDelay: DefaultPageDelay,
		sleep:     time.Sleep,
		logger:    logger.Named("fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

type category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// timestamp accepts both a JSON string and a JSON number.
type timestamp int64

func (t *timestamp) UnmarshalJSON(b []byte) error {
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("gachaTs: %w", err)
		}
		n = json.Number(s)
	}
	v, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return fmt.Errorf("gachaTs: %w", err)
	}
	*t = timestamp(v)
	return nil
}

type record struct {
	PoolName string    `json:"poolName"`
	CharName string    `json:"charName"`
	Rarity   int       `json:"rarity"`
	IsNew    bool      `json:"isNew"`
	GachaTs  timestamp `json:"gachaTs"`
	Pos      int       `json:"pos"`
}

type page struct {
	List    []record `json:"list"`
	HasMore bool     `json:"hasMore"`
}

// FetchAll returns every record of gameUID in category order, each tagged with
// its category. Any failure discards everything fetched so far.
func (f *Fetcher) FetchAll(ctx context.Context, s Session, gameUID string) ([]model.RawDraw, error) {
	log := f.logger.With(zap.String("game_uid", gameUID))

	cats, err := f.categories(ctx, s, gameUID)
	if err != nil {
		log.Error("category list failed", zap.Error(err))
		return nil, err
	}

	var all []model.RawDraw
	for _, cat := range cats {
		draws, err := f.category(ctx, s, gameUID, cat.ID)
		if err != nil {
			log.Error("record fetch failed", zap.String("category", cat.ID), zap.Error(err))
			return nil, err
		}
		log.Debug("category fetched", zap.String("category", cat.ID), zap.Int("records", len(draws)))
		all = append(all, draws...)
	}

	log.Info("records fetched", zap.Int("categories", len(cats)), zap.Int("records", len(all)))
	return all, nil
}

func (f *Fetcher) categories(ctx context.Context, s Session, gameUID string) ([]category, error) {
	env, err := s.Envelope(ctx, remote.Call{
		Method: http.MethodGet,
		URL:    s.Endpoints().Categories,
		Query:  map[string]string{"uid": gameUID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: categories: %w", errs.ErrFetch, err)
	}
	var cats []category
	if err := env.Decode(&cats); err != nil {
		return nil, fmt.Errorf("%w: categories: %w", errs.ErrFetch, err)
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("%w: empty category list", errs.ErrFetch)
	}
	return cats, nil
}

func (f *Fetcher) category(ctx context.Context, s Session, gameUID, id string) ([]model.RawDraw, error) {
	query := map[string]string{
		"uid":      gameUID,
		"category": id,
		"size":     strconv.Itoa(f.pageSize),
	}

	var out []model.RawDraw
	for n := 0; ; n++ {
		if n > 0 && f.pageDelay > 0 {
			f.sleep(f.pageDelay)
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", errs.ErrFetch, err)
		}

		env, err := s.Envelope(ctx, remote.Call{
			Method: http.MethodGet,
			URL:    s.Endpoints().DrawRecords,
			Query:  query,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %w", errs.ErrFetch, id, n+1, err)
		}
		var p page
		if err := env.Decode(&p); err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %w", errs.ErrFetch, id, n+1, err)
		}
		if len(p.List) == 0 {
			return out, nil
		}

		for _, r := range p.List {
			out = append(out, model.RawDraw{
				TimeMs:   int64(r.GachaTs),
				Category: id,
				PoolName: r.PoolName,
				CharName: r.CharName,
				Rarity:   r.Rarity,
				IsNew:    r.IsNew,
				Pos:      r.Pos,
			})
		}
		if !p.HasMore {
			return out, nil
		}

		last := p.List[len(p.List)-1]
		query["gachaTs"] = strconv.FormatInt(int64(last.GachaTs), 10)
		query["pos"] = strconv.Itoa(last.Pos)
	}
}
