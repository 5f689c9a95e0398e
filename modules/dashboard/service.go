package dashboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/guarzo/qualityapi/common"
	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/api"
)

// Subsystem groups served by /metrics/subsistemas, plus the client-side aggregate.
const (
	GroupObra     = "obra"
	GroupMecanico = "mecanico"
	GroupIE       = "ie"
	GroupGeneral  = "general"
)

// Groups are the server-side groups, in display order.
var Groups = []string{GroupObra, GroupMecanico, GroupIE}

var ErrUnknownGroup = errors.New("unknown subsystem group")

const DefaultCacheTTL = time.Minute

// UnmatchedQuery filters /aconex/unmatched.
type UnmatchedQuery struct {
	Strict bool
	Search string
	Limit  int
	Offset int
}

// Overview is everything the dashboard landing page shows.
type Overview struct {
	Cards       model.Cards           `json:"cards"`
	Percentages Percentages           `json:"percentages"`
	Disciplines []model.DisciplineRow `json:"disciplines"`
	Groups      []model.GroupRow      `json:"groups"`
	Duplicates  DuplicateStats        `json:"duplicates"`
	Changes     model.ChangesSummary  `json:"changes"`
}

// Service reads dashboard metrics through the authenticated client.
type Service interface {
	Cards(ctx context.Context) (*model.Cards, error)
	Disciplines(ctx context.Context) ([]model.DisciplineRow, error)
	Groups(ctx context.Context) ([]model.GroupRow, error)
	// Subsystems returns one group's rows, or the aggregate for GroupGeneral, ordered by name.
	Subsystems(ctx context.Context, group string) ([]model.SubsystemRow, error)
	GeneralSubsystems(ctx context.Context) ([]model.SubsystemRow, error)
	ChangesSummary(ctx context.Context) (*model.ChangesSummary, error)
	Duplicates(ctx context.Context, strict bool) ([]model.DuplicateRow, error)
	Unmatched(ctx context.Context, q UnmatchedQuery) (*model.UnmatchedPage, error)
	Overview(ctx context.Context) (*Overview, error)
	// Download streams a named server-side CSV export to w and returns its suggested filename.
	Download(ctx context.Context, name string, w io.Writer) (filename string, n int64, err error)
}

type service struct {
	client api.Client
	cache  common.CacheRepository
	ttl    time.Duration
	log    zerolog.Logger
}

// NewService builds a Service. cache may be nil to disable caching; ttl <= 0 uses DefaultCacheTTL.
func NewService(client api.Client, cache common.CacheRepository, ttl time.Duration, log zerolog.Logger) Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &service{client: client, cache: cache, ttl: ttl, log: log}
}

func (s *service) Cards(ctx context.Context) (*model.Cards, error) {
	var cards model.Cards
	if err := s.getJSON(ctx, "/metrics/cards", nil, &cards); err != nil {
		return nil, err
	}
	return &cards, nil
}

func (s *service) Disciplines(ctx context.Context) ([]model.DisciplineRow, error) {
	var rows []model.DisciplineRow
	if err := s.getJSON(ctx, "/metrics/disciplinas", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) Groups(ctx context.Context) ([]model.GroupRow, error) {
	var rows []model.GroupRow
	if err := s.getJSON(ctx, "/metrics/grupos", nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) Subsystems(ctx context.Context, group string) ([]model.SubsystemRow, error) {
	if group == GroupGeneral {
		return s.GeneralSubsystems(ctx)
	}
	if !isGroup(group) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGroup, group)
	}
	rows, err := s.groupSubsystems(ctx, group)
	if err != nil {
		return nil, err
	}
	SortSubsystems(rows)
	return rows, nil
}

func (s *service) groupSubsystems(ctx context.Context, group string) ([]model.SubsystemRow, error) {
	var rows []model.SubsystemRow
	if err := s.getJSON(ctx, "/metrics/subsistemas", url.Values{"group": {group}}, &rows); err != nil {
		return nil, fmt.Errorf("subsystems %s: %w", group, err)
	}
	return rows, nil
}

// GeneralSubsystems loads every group concurrently and sums them by subsystem name.
func (s *service) GeneralSubsystems(ctx context.Context) ([]model.SubsystemRow, error) {
	parts := make([][]model.SubsystemRow, len(Groups))
	g, gctx := errgroup.WithContext(ctx)
	for i, group := range Groups {
		i, group := i, group
		g.Go(func() error {
			rows, err := s.groupSubsystems(gctx, group)
			parts[i] = rows
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	rows := AggregateSubsystems(parts...)
	SortSubsystems(rows)
	return rows, nil
}

func (s *service) ChangesSummary(ctx context.Context) (*model.ChangesSummary, error) {
	var sum model.ChangesSummary
	if err := s.getJSON(ctx, "/metrics/changes/summary", nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

func (s *service) Duplicates(ctx context.Context, strict bool) ([]model.DuplicateRow, error) {
	var q url.Values
	if strict {
		q = url.Values{"strict": {"true"}}
	}
	var rows []model.DuplicateRow
	if err := s.getJSON(ctx, "/aconex/duplicates", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *service) Unmatched(ctx context.Context, uq UnmatchedQuery) (*model.UnmatchedPage, error) {
	q := url.Values{"strict": {strconv.FormatBool(uq.Strict)}}
	if uq.Search != "" {
		q.Set("q", uq.Search)
	}
	if uq.Limit > 0 {
		q.Set("limit", strconv.Itoa(uq.Limit))
	}
	if uq.Offset > 0 {
		q.Set("offset", strconv.Itoa(uq.Offset))
	}
	var page model.UnmatchedPage
	if err := s.getJSON(ctx, "/aconex/unmatched", q, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Overview loads the landing page in parallel; the first failure cancels the rest.
func (s *service) Overview(ctx context.Context) (*Overview, error) {
	var (
		out  Overview
		dups []model.DuplicateRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.getJSON(gctx, "/metrics/cards", nil, &out.Cards) })
	g.Go(func() error { return s.getJSON(gctx, "/metrics/disciplinas", nil, &out.Disciplines) })
	g.Go(func() error { return s.getJSON(gctx, "/metrics/grupos", nil, &out.Groups) })
	g.Go(func() error { return s.getJSON(gctx, "/aconex/duplicates", nil, &dups) })
	g.Go(func() error { return s.getJSON(gctx, "/metrics/changes/summary", nil, &out.Changes) })
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out.Percentages = CardPercentages(out.Cards)
	out.Duplicates = ComputeDuplicateStats(dups)
	return &out, nil
}

func (s *service) Download(ctx context.Context, name string, w io.Writer) (string, int64, error) {
	d, ok := LookupDownload(name)
	if !ok {
		return "", 0, fmt.Errorf("%w: %q", ErrUnknownDownload, name)
	}
	n, err := s.client.Download(ctx, d.Path, d.Query, w)
	if err != nil {
		return "", n, fmt.Errorf("download %s: %w", name, err)
	}
	s.log.Debug().Str("download", name).Int64("bytes", n).Msg("export downloaded")
	return d.Filename, n, nil
}

// getJSON reads through the cache. Keys are scoped to the signed-in email so cached data
// never crosses identities.
func (s *service) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if s.cache == nil {
		return s.client.GetJSON(ctx, path, query, out)
	}

	key := s.cacheKey(path, query)
	if data, found := s.cache.Get(ctx, key); found {
		if err := model.JSONUnmarshal(data, out); err == nil {
			return nil
		}
		s.cache.Delete(ctx, key)
	}

	data, err := s.client.Request(ctx, http.MethodGet, pathWithQuery(path, query), nil)
	if err != nil {
		return err
	}
	if err = model.JSONUnmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	s.cache.Set(ctx, key, data, s.ttl)
	return nil
}

func (s *service) cacheKey(path string, query url.Values) string {
	email := ""
	if p := s.client.Session().Profile(); p != nil {
		email = p.Email
	}
	return "dashboard:" + email + ":" + pathWithQuery(path, query)
}

func pathWithQuery(path string, query url.Values) string {
	if len(query) == 0 {
		return path
	}
	return path + "?" + query.Encode()
}

func isGroup(group string) bool {
	for _, g := range Groups {
		if g == group {
			return true
		}
	}
	return false
}
