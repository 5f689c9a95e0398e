package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/spf13/pflag"

	"github.com/guarzo/qualityapi/common/config"
	"github.com/guarzo/qualityapi/common/logging"
)

const appName = "dashctl"

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		}
		os.Exit(1)
	}
}

// globalFlags are parsed before the command name.
type globalFlags struct {
	envFile  string
	email    string
	password string
	logLevel string
	format   string
}

func parseGlobal(args []string, stderr io.Writer) (*globalFlags, []string, error) {
	g := &globalFlags{}
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.StringVar(&g.envFile, "env-file", "", "env file to load (default ./.env when present)")
	fs.StringVar(&g.email, "email", "", "sign-in email (default DASH_EMAIL)")
	fs.StringVar(&g.password, "password", "", "sign-in password (default DASH_PASSWORD)")
	fs.StringVar(&g.logLevel, "log-level", "", "log level override (default LOG_LEVEL)")
	fs.StringVarP(&g.format, "output", "o", "json", "output format: json or csv")
	fs.Usage = func() { usage(stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, nil, errUsage
		}
		return nil, nil, err
	}
	if g.format != "json" && g.format != "csv" {
		return nil, nil, fmt.Errorf("--output must be json or csv, got %q", g.format)
	}
	if fs.NArg() == 0 {
		usage(stderr, fs)
		return nil, nil, errUsage
	}
	return g, fs.Args(), nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	g, rest, err := parseGlobal(args, stderr)
	if err != nil {
		return err
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", rest[0])
		return errUsage
	}

	cfg, err := config.Load(g.envFile)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.email != "" {
		cfg.Auth.Email = g.email
	}
	if g.password != "" {
		cfg.Auth.Password = g.password
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log, stdout, stderr, g.format)
	if err != nil {
		return err
	}
	defer a.close()

	if err = a.signIn(ctx); err != nil {
		return err
	}
	defer a.signOut()

	return cmd.run(ctx, a, rest[1:])
}

func usage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, banner())
	fmt.Fprintf(w, "usage: %s [flags] <command> [args]\n\nflags:\n%s\ncommands:\n", appName, fs.FlagUsages())
	for _, name := range commandNames() {
		fmt.Fprintf(w, "  %-14s %s\n", name, commands[name].help)
	}
}

func banner() string {
	return figure.NewFigure(appName, "cybermedium", true).String()
}
