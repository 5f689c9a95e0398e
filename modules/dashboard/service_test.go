package dashboard_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guarzo/qualityapi/common"
	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/internal/apitest"
	"github.com/guarzo/qualityapi/modules/api"
	modcommon "github.com/guarzo/qualityapi/modules/common"
	"github.com/guarzo/qualityapi/modules/dashboard"
)

func fixtures() apitest.Fixtures {
	return apitest.Fixtures{
		Cards: model.Cards{Universe: 8, Open: 3, Closed: 5, AconexLoaded: 4},
		Disciplines: []model.DisciplineRow{
			{Discipline: "Civil", Universe: 5, Open: 2, Closed: 3},
		},
		Groups: []model.GroupRow{{Group: "obra", Universe: 8, Open: 3, Closed: 5}},
		Subsystems: map[string][]model.SubsystemRow{
			"obra":     {{Subsystem: "SS-10", Universe: 1, Open: 1}, {Subsystem: "SS-2", Universe: 2, Closed: 2}},
			"mecanico": {{Subsystem: "SS-2", Universe: 3, Open: 1, Closed: 2, AconexLoaded: 2}},
			"ie":       {{Subsystem: "", Universe: 1, Open: 1}, {Subsystem: "ss-1", Universe: 4, PendingClose: 1}},
		},
		Duplicates: []model.DuplicateRow{{DocumentNo: "A", Count: 3}, {DocumentNo: "B", Count: 1}, {DocumentNo: "C", Count: 2}},
		Summary:    model.ChangesSummary{HasPrevious: true, ChangedCount: 7},
		CSV:        map[string]string{"/export/aconex-ss-errors.csv": "document_no;error\nX;ss\n"},
	}
}

func setup(t *testing.T, cache common.CacheRepository) (*apitest.Server, api.Client, dashboard.Service) {
	t.Helper()
	srv := apitest.New(t)
	srv.AddUser("a@b.com", "secret123", "Ana", model.RoleUser)
	srv.AddUser("c@d.com", "secret123", "Carla", model.RoleAdmin)
	srv.SetFixtures(fixtures())

	hc, err := common.NewHttpClient(common.HttpClientOptions{})
	require.NoError(t, err)
	client := api.NewClient(srv.URL, hc, nil, nil)
	_, err = client.Login(context.Background(), "a@b.com", "secret123")
	require.NoError(t, err)
	return srv, client, dashboard.NewService(client, cache, time.Minute, zerolog.Nop())
}

func TestService_Overview(t *testing.T) {
	_, _, svc := setup(t, nil)

	ov, err := svc.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, ov.Cards.Universe)
	assert.Equal(t, dashboard.Percentages{Closed: 63, Open: 38}, ov.Percentages)
	assert.Len(t, ov.Disciplines, 1)
	assert.Len(t, ov.Groups, 1)
	assert.Equal(t, dashboard.DuplicateStats{Keys: 2, Extras: 3}, ov.Duplicates)
	assert.Equal(t, 7, ov.Changes.ChangedCount)
}

func TestService_OverviewFailsOnFirstError(t *testing.T) {
	srv, _, svc := setup(t, nil)
	srv.Override(http.MethodGet, "/metrics/grupos", func(w http.ResponseWriter, r *http.Request) {
		apitest.WriteDetail(w, http.StatusInternalServerError, "db down")
	})

	_, err := svc.Overview(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, common.StatusCode(err))
}

func TestService_Subsystems(t *testing.T) {
	srv, _, svc := setup(t, nil)

	rows, err := svc.Subsystems(context.Background(), dashboard.GroupObra)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "SS-2", rows[0].Subsystem)
	assert.Equal(t, "SS-10", rows[1].Subsystem)

	reqs := srv.RequestsTo("/metrics/subsistemas")
	require.Len(t, reqs, 1)
	assert.Equal(t, "group=obra", reqs[0].Query)

	_, err = svc.Subsystems(context.Background(), "electrico")
	assert.True(t, errors.Is(err, dashboard.ErrUnknownGroup))
}

func TestService_GeneralSubsystems(t *testing.T) {
	srv, _, svc := setup(t, nil)

	rows, err := svc.Subsystems(context.Background(), dashboard.GroupGeneral)
	require.NoError(t, err)
	assert.Len(t, srv.RequestsTo("/metrics/subsistemas"), 3)

	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Subsystem
	}
	assert.Equal(t, []string{"", "ss-1", "SS-2", "SS-10"}, names)

	ss2 := rows[2]
	assert.Equal(t, model.SubsystemRow{Subsystem: "SS-2", Universe: 5, Open: 1, Closed: 4, AconexLoaded: 2}, ss2)
}

func TestService_Unmatched(t *testing.T) {
	srv, _, svc := setup(t, nil)

	_, err := svc.Unmatched(context.Background(), dashboard.UnmatchedQuery{Strict: true, Search: "E-1", Limit: 20})
	require.NoError(t, err)
	reqs := srv.RequestsTo("/aconex/unmatched")
	require.Len(t, reqs, 1)
	assert.Equal(t, "limit=20&q=E-1&strict=true", reqs[0].Query)
}

func TestService_CacheScopedToIdentity(t *testing.T) {
	srv, client, svc := setup(t, modcommon.NewCacheStore())
	ctx := context.Background()

	_, err := svc.Cards(ctx)
	require.NoError(t, err)
	_, err = svc.Cards(ctx)
	require.NoError(t, err)
	assert.Len(t, srv.RequestsTo("/metrics/cards"), 1, "second read served from cache")

	_, err = client.Login(ctx, "c@d.com", "secret123")
	require.NoError(t, err)
	_, err = svc.Cards(ctx)
	require.NoError(t, err)
	assert.Len(t, srv.RequestsTo("/metrics/cards"), 2, "another identity misses the cache")
}

func TestService_Download(t *testing.T) {
	srv, _, svc := setup(t, nil)
	srv.ExpireAccessTokens()

	var buf bytes.Buffer
	name, n, err := svc.Download(context.Background(), "ss-errors", &buf)
	require.NoError(t, err)
	assert.Equal(t, "aconex_ss_errors.csv", name)
	assert.EqualValues(t, buf.Len(), n)
	assert.Equal(t, "document_no;error\nX;ss\n", buf.String())
	assert.Equal(t, 1, srv.RefreshCalls())

	_, _, err = svc.Download(context.Background(), "changes", &buf)
	assert.Equal(t, http.StatusBadRequest, common.StatusCode(err), "no load available yet")

	_, _, err = svc.Download(context.Background(), "everything", &buf)
	assert.True(t, errors.Is(err, dashboard.ErrUnknownDownload))
}
