package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/guarzo/qualityapi/common/model"
	"github.com/guarzo/qualityapi/modules/dashboard"
	"github.com/guarzo/qualityapi/modules/protocols"
	"github.com/guarzo/qualityapi/modules/report"
	"github.com/guarzo/qualityapi/modules/users"
)

type command struct {
	help string
	run  func(ctx context.Context, a *app, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"whoami":      {"show the signed-in profile and token expiry", runWhoami},
		"overview":    {"cards, disciplines, groups, duplicates and changes in one call", runOverview},
		"cards":       {"headline counters with closed/open percentages", runCards},
		"disciplinas": {"counters per discipline", runDisciplines},
		"grupos":      {"counters per discipline group", runGroups},
		"subsistemas": {"counters per subsystem (--group obra|mecanico|ie|general)", runSubsystems},
		"changes":     {"summary of subsystem changes between the last two loads", runChanges},
		"duplicates":  {"Aconex document numbers loaded more than once (--strict)", runDuplicates},
		"unmatched":   {"Aconex documents without a protocol (--strict, --search)", runUnmatched},
		"protocols":   {"protocol log: options | list | export", runProtocols},
		"download":    {"save a server CSV export; no name lists them", runDownload},
		"upload":      {"admin: upload apsa|aconex <file>", runUpload},
		"users":       {"admin: list | create | update | set-password | deactivate; change-password", runUsers},
		"watch":       {"poll the overview and serve client metrics", runWatch},
	}
}

func commandNames() []string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newFlagSet(a *app, name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.stderr)
	return fs
}

func runWhoami(_ context.Context, a *app, _ []string) error {
	store := a.client.Session()
	tok, err := store.Token()
	if err != nil {
		return err
	}
	out := struct {
		*model.Profile
		ExpiresAt *time.Time `json:"expires_at,omitempty"`
	}{Profile: store.Profile()}
	if !tok.Expiry.IsZero() {
		out.ExpiresAt = &tok.Expiry
	}
	return a.printJSON(out)
}

func runOverview(ctx context.Context, a *app, _ []string) error {
	ov, err := a.dashboard.Overview(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(ov)
}

func runCards(ctx context.Context, a *app, _ []string) error {
	cards, err := a.dashboard.Cards(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(struct {
		*model.Cards
		Percentages dashboard.Percentages `json:"percentages"`
	}{cards, dashboard.CardPercentages(*cards)})
}

func runDisciplines(ctx context.Context, a *app, _ []string) error {
	rows, err := a.dashboard.Disciplines(ctx)
	if err != nil {
		return err
	}
	return printTable(a, rows)
}

func runGroups(ctx context.Context, a *app, _ []string) error {
	rows, err := a.dashboard.Groups(ctx)
	if err != nil {
		return err
	}
	return printTable(a, rows)
}

func runSubsystems(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "subsistemas")
	group := fs.StringP("group", "g", dashboard.GroupGeneral, "obra, mecanico, ie or general")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rows, err := a.dashboard.Subsystems(ctx, *group)
	if err != nil {
		return err
	}
	return printTable(a, rows)
}

func runChanges(ctx context.Context, a *app, _ []string) error {
	sum, err := a.dashboard.ChangesSummary(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(sum)
}

func runDuplicates(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "duplicates")
	strict := fs.Bool("strict", false, "match on document number and revision")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rows, err := a.dashboard.Duplicates(ctx, *strict)
	if err != nil {
		return err
	}
	if a.format == "csv" {
		return printTable(a, rows)
	}
	return a.printJSON(struct {
		Stats dashboard.DuplicateStats `json:"stats"`
		Rows  []model.DuplicateRow     `json:"rows"`
	}{dashboard.ComputeDuplicateStats(rows), rows})
}

func runUnmatched(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "unmatched")
	var q dashboard.UnmatchedQuery
	fs.BoolVar(&q.Strict, "strict", false, "match on document number and revision")
	fs.StringVarP(&q.Search, "search", "q", "", "search text")
	fs.IntVar(&q.Limit, "limit", 0, "page size (server default when 0)")
	fs.IntVar(&q.Offset, "offset", 0, "rows to skip")
	if err := fs.Parse(args); err != nil {
		return err
	}
	page, err := a.dashboard.Unmatched(ctx, q)
	if err != nil {
		return err
	}
	if a.format == "csv" {
		return printTable(a, page.Items)
	}
	return a.printJSON(page)
}

func protocolFlags(fs *pflag.FlagSet) *protocols.Filter {
	f := &protocols.Filter{}
	fs.StringVar(&f.Subsystem, "subsistema", "", "subsystem")
	fs.StringVar(&f.Discipline, "disciplina", "", "discipline")
	fs.StringVar(&f.Group, "grupo", "", "discipline group")
	fs.StringVarP(&f.Search, "search", "q", "", "search document, description and tag")
	fs.StringVar(&f.Status, "status", "", protocols.StatusOpen+" or "+protocols.StatusClosed)
	fs.BoolVar(&f.OnlyLoaded, "cargado", false, "only rows loaded in Aconex")
	fs.BoolVar(&f.OnlySubsystemErrors, "error-ss", false, "only rows whose Aconex subsystem disagrees")
	fs.BoolVar(&f.NotInAconex, "sin-aconex", false, "only rows missing from Aconex")
	return f
}

func runProtocols(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("protocols: want options, list or export")
	}
	fs := newFlagSet(a, "protocols "+args[0])
	f := protocolFlags(fs)

	switch args[0] {
	case "options":
		opts, err := a.protocols.Options(ctx)
		if err != nil {
			return err
		}
		return a.printJSON(opts)

	case "list":
		pageNo := fs.Int("page", 1, "page number")
		size := fs.Int("page-size", protocols.DefaultPageSize, "rows per page")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		page, err := a.protocols.List(ctx, *f, *pageNo, *size)
		if err != nil {
			return err
		}
		if a.format == "csv" {
			return printTable(a, page.Rows)
		}
		return a.printJSON(struct {
			*model.ProtocolPage
			Pages int `json:"pages"`
		}{page, protocols.Pages(page.Total, page.PageSize)})

	case "export":
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		var buf bytes.Buffer
		if _, err := a.protocols.Export(ctx, *f, &buf); err != nil {
			return err
		}
		return a.save(ctx, protocols.ExportFilename, buf.Bytes())

	default:
		return fmt.Errorf("protocols: unknown subcommand %q", args[0])
	}
}

func runDownload(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		for _, d := range dashboard.Downloads() {
			fmt.Fprintf(a.stdout, "%-18s %s\n", d.Name, d.Filename)
		}
		return nil
	}
	var buf bytes.Buffer
	filename, _, err := a.dashboard.Download(ctx, args[0], &buf)
	if err != nil {
		return err
	}
	return a.save(ctx, report.Filename(filename), buf.Bytes())
}

func runUpload(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet(a, "upload")
	hard := fs.Bool("hard", false, "apsa only: replace the previous load instead of appending")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("upload: want apsa|aconex <file>")
	}
	kind, path := fs.Arg(0), fs.Arg(1)

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var res *model.UploadResult
	switch kind {
	case "apsa":
		res, err = a.uploads.UploadAPSA(ctx, filepath.Base(path), f, *hard)
	case "aconex":
		res, err = a.uploads.UploadAconex(ctx, filepath.Base(path), f)
	default:
		return fmt.Errorf("upload: unknown kind %q", kind)
	}
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func runUsers(ctx context.Context, a *app, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("users: want list, create, update, set-password, deactivate or change-password")
	}
	sub, args := args[0], args[1:]
	fs := newFlagSet(a, "users "+sub)

	switch sub {
	case "list":
		list, err := a.users.List(ctx)
		if err != nil {
			return err
		}
		return printTable(a, list)

	case "create":
		var in model.UserCreate
		fs.StringVar(&in.Email, "email", "", "account email")
		fs.StringVar(&in.FullName, "name", "", "full name")
		fs.StringVar(&in.Password, "password", "", "initial password (min 8)")
		admin := fs.Bool("admin", false, "grant Admin")
		user := fs.Bool("user", false, "grant User")
		inactive := fs.Bool("inactive", false, "create the account disabled")
		if err := fs.Parse(args); err != nil {
			return err
		}
		in.Roles = users.RolesFromFlags(*admin, *user)
		in.IsActive = !*inactive
		u, err := a.users.Create(ctx, in)
		if err != nil {
			return err
		}
		return a.printJSON(u)

	case "update":
		name := fs.String("name", "", "new full name")
		admin := fs.Bool("admin", false, "grant Admin")
		user := fs.Bool("user", false, "grant User")
		active := fs.Bool("active", false, "enable the account")
		inactive := fs.Bool("inactive", false, "disable the account")
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := userID(fs)
		if err != nil {
			return err
		}
		if *active && *inactive {
			return fmt.Errorf("users update: --active and --inactive are exclusive")
		}
		var in model.UserUpdate
		if fs.Changed("name") {
			in.FullName = name
		}
		if fs.Changed("admin") || fs.Changed("user") {
			in.Roles = users.RolesFromFlags(*admin, *user)
		}
		if *active || *inactive {
			v := *active
			in.IsActive = &v
		}
		u, err := a.users.Update(ctx, id, in)
		if err != nil {
			return err
		}
		return a.printJSON(u)

	case "set-password":
		password := fs.String("password", "", "new password (min 8)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := userID(fs)
		if err != nil {
			return err
		}
		return a.users.SetPassword(ctx, id, *password)

	case "deactivate":
		if err := fs.Parse(args); err != nil {
			return err
		}
		id, err := userID(fs)
		if err != nil {
			return err
		}
		return a.users.Deactivate(ctx, id)

	case "change-password":
		current := fs.String("current", "", "current password")
		next := fs.String("new", "", "new password (min 8)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return a.users.ChangePassword(ctx, *current, *next)

	default:
		return fmt.Errorf("users: unknown subcommand %q", sub)
	}
}

func userID(fs *pflag.FlagSet) (int64, error) {
	if fs.NArg() != 1 {
		return 0, errors.New("want exactly one user id")
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", fs.Arg(0))
	}
	return id, nil
}
