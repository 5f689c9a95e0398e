// Package protocols reads the APSA protocol log: filter options, paginated listing and CSV export.
package protocols

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/api"
)

const (
	DefaultPageSize = 50
	// MaxPageSize is the server's hard cap.
	MaxPageSize = 500

	ExportFilename = "log_protocolos.csv"
)

// Status values of a protocol row.
const (
	StatusOpen   = "ABIERTO"
	StatusClosed = "CERRADO"
)

// Filter narrows the protocol log. Zero fields are omitted from the query.
type Filter struct {
	Subsystem  string
	Discipline string
	// Group is a discipline group: obra, mecanico or ie.
	Group  string
	Search string
	Status string
	// OnlyLoaded keeps rows already loaded in Aconex.
	OnlyLoaded bool
	// OnlySubsystemErrors keeps rows whose Aconex subsystem disagrees.
	OnlySubsystemErrors bool
	// NotInAconex keeps rows without an Aconex counterpart.
	NotInAconex bool
}

// Values encodes the filter the way /apsa/list and /export/apsa.csv expect it.
func (f Filter) Values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("subsistema", f.Subsystem)
	set("disciplina", f.Discipline)
	set("grupo", f.Group)
	set("q", strings.TrimSpace(f.Search))
	set("status", f.Status)
	if f.OnlyLoaded {
		v.Set("cargado", "true")
	}
	if f.OnlySubsystemErrors {
		v.Set("error_ss", "true")
	}
	if f.NotInAconex {
		v.Set("sin_aconex", "true")
	}
	return v
}

type Service interface {
	Options(ctx context.Context) (*model.ProtocolOptions, error)
	List(ctx context.Context, f Filter, page, pageSize int) (*model.ProtocolPage, error)
	// Export streams the filtered log as CSV to w.
	Export(ctx context.Context, f Filter, w io.Writer) (int64, error)
}

type service struct {
	client api.Client
}

func NewService(client api.Client) Service {
	return &service{client: client}
}

func (s *service) Options(ctx context.Context) (*model.ProtocolOptions, error) {
	var opts model.ProtocolOptions
	if err := s.client.GetJSON(ctx, "/apsa/options", nil, &opts); err != nil {
		return nil, err
	}
	return &opts, nil
}

func (s *service) List(ctx context.Context, f Filter, page, pageSize int) (*model.ProtocolPage, error) {
	page, pageSize = ClampPage(page, pageSize)
	q := f.Values()
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var out model.ProtocolPage
	if err := s.client.GetJSON(ctx, "/apsa/list", q, &out); err != nil {
		return nil, err
	}
	if out.Rows == nil {
		out.Rows = []model.ProtocolRow{}
	}
	if out.Page == 0 {
		out.Page = page
	}
	if out.PageSize == 0 {
		out.PageSize = pageSize
	}
	return &out, nil
}

func (s *service) Export(ctx context.Context, f Filter, w io.Writer) (int64, error) {
	n, err := s.client.Download(ctx, "/export/apsa.csv", f.Values(), w)
	if err != nil {
		return n, fmt.Errorf("export protocol log: %w", err)
	}
	return n, nil
}

// ClampPage applies the server's paging rules: page >= 1, 1 <= pageSize <= MaxPageSize,
// and a non-positive size selects DefaultPageSize.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// Pages is the number of pages needed to show total rows; at least 1.
func Pages(total, pageSize int) int {
	_, pageSize = ClampPage(1, pageSize)
	if total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
