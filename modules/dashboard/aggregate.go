package dashboard

import (
	"errors"
	"math"
	"net/url"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/guarzo/qualityapi/common/model"
)

// AggregateSubsystems sums rows that share a subsystem name across groups. Rows keep the
// order in which each name was first seen.
func AggregateSubsystems(groups ...[]model.SubsystemRow) []model.SubsystemRow {
	index := make(map[string]int)
	var out []model.SubsystemRow
	for _, rows := range groups {
		for _, r := range rows {
			i, ok := index[r.Subsystem]
			if !ok {
				i = len(out)
				index[r.Subsystem] = i
				out = append(out, model.SubsystemRow{Subsystem: r.Subsystem})
			}
			acc := &out[i]
			acc.Universe += r.Universe
			acc.Open += r.Open
			acc.Closed += r.Closed
			acc.PendingClose += r.PendingClose
			acc.AconexLoaded += r.AconexLoaded
			acc.AconexPending += r.AconexPending
		}
	}
	return out
}

// SortSubsystems orders rows by name, comparing digit runs numerically and ignoring case
// and accents, so "SS-2" sorts before "ss-10".
func SortSubsystems(rows []model.SubsystemRow) {
	c := collate.New(language.Und, collate.Numeric, collate.IgnoreCase, collate.IgnoreDiacritics)
	sort.SliceStable(rows, func(i, j int) bool {
		return c.CompareString(rows[i].Subsystem, rows[j].Subsystem) < 0
	})
}

// DuplicateStats summarises /aconex/duplicates.
type DuplicateStats struct {
	// Keys is the number of document keys that appear at least twice.
	Keys int `json:"doc_keys_con_duplicados"`
	// Extras is the number of copies beyond the first, summed over those keys.
	Extras int `json:"duplicados_extras"`
}

func ComputeDuplicateStats(rows []model.DuplicateRow) DuplicateStats {
	var st DuplicateStats
	for _, r := range rows {
		if r.Count >= 2 {
			st.Keys++
			st.Extras += r.Count - 1
		}
	}
	return st
}

// Percentages are whole-percent shares of the universe.
type Percentages struct {
	Closed int `json:"porcentaje_cerrado"`
	Open   int `json:"porcentaje_abierto"`
}

func CardPercentages(c model.Cards) Percentages {
	if c.Universe <= 0 {
		return Percentages{}
	}
	return Percentages{
		Closed: percent(c.Closed, c.Universe),
		Open:   percent(c.Open, c.Universe),
	}
}

// percent rounds half away from zero.
func percent(part, whole int) int {
	return int(math.Round(float64(part) / float64(whole) * 100))
}

// ---------------------------------------------------------------------------
// server-side CSV exports
// ---------------------------------------------------------------------------

var ErrUnknownDownload = errors.New("unknown download")

// DownloadSpec is a CSV export produced by the server.
type DownloadSpec struct {
	Name     string
	Path     string
	Query    url.Values
	Filename string
}

var downloads = []DownloadSpec{
	{Name: "unmatched", Path: "/aconex/unmatched.csv", Query: url.Values{"strict": {"false"}}, Filename: "aconex_unmatched.csv"},
	{Name: "unmatched-strict", Path: "/aconex/unmatched.csv", Query: url.Values{"strict": {"true"}}, Filename: "aconex_unmatched_strict.csv"},
	{Name: "duplicates", Path: "/aconex/duplicates.csv", Query: url.Values{"strict": {"false"}}, Filename: "aconex_duplicados.csv"},
	{Name: "duplicates-strict", Path: "/aconex/duplicates.csv", Query: url.Values{"strict": {"true"}}, Filename: "aconex_duplicados_strict.csv"},
	{Name: "ss-errors", Path: "/export/aconex-ss-errors.csv", Filename: "aconex_ss_errors.csv"},
	{Name: "changes", Path: "/metrics/subsistemas/changes.csv", Filename: "cambios_subsistemas.csv"},
}

// Downloads lists the available exports.
func Downloads() []DownloadSpec {
	return append([]DownloadSpec(nil), downloads...)
}

func LookupDownload(name string) (DownloadSpec, bool) {
	for _, d := range downloads {
		if d.Name == name {
			return d, true
		}
	}
	return DownloadSpec{}, false
}
