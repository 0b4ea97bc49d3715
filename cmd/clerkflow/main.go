// clerkflow signs in to and out of a Frontend API from the terminal, driving
// the same sign-in and sign-up flows an application embeds.
//
// Usage:
//
//	clerkflow signin [identifier]        Sign in, prompting for each factor
//	clerkflow signin --ticket <ticket>   Sign in with an invitation ticket
//	clerkflow signup [flags]             Create an account
//	clerkflow whoami                     Show the active session
//	clerkflow signout                    End every session on this client
//	clerkflow env                        Show the instance environment
//	clerkflow check                      Check the Frontend API's response shapes
//	clerkflow config [show|get|set|path] Read or change the config file
//	clerkflow version                    Print the version
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/wondertwin-ai/clerkflow/internal/config"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	opts, cmd, args := parseArgs(os.Args[1:])

	if cmd == "" || cmd == "help" || cmd == "--help" || cmd == "-h" {
		printUsage(os.Stdout)
		if cmd == "" {
			os.Exit(1)
		}
		return
	}
	if cmd == "version" || cmd == "--version" {
		fmt.Printf("clerkflow version %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := newApp(opts, os.Stdin, os.Stdout, os.Stderr)
	if err == nil {
		err = a.run(ctx, cmd, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "clerkflow: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	frontendAPI string
	verbose     bool
}

// parseArgs pulls the global flags out of raw and returns the subcommand and
// its arguments.
func parseArgs(raw []string) (opts options, command string, args []string) {
	var filtered []string
	for i := 0; i < len(raw); i++ {
		switch {
		case raw[i] == "--config" && i+1 < len(raw):
			opts.configPath = raw[i+1]
			i++
		case raw[i] == "--frontend-api" && i+1 < len(raw):
			opts.frontendAPI = raw[i+1]
			i++
		case raw[i] == "--verbose":
			opts.verbose = true
		default:
			filtered = append(filtered, raw[i])
		}
	}
	if len(filtered) == 0 {
		return opts, "", nil
	}
	return opts, filtered[0], filtered[1:]
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, `clerkflow — Frontend API sign-in flows %s

Usage:
  clerkflow [--config <path>] [--frontend-api <url>] [--verbose] <command> [arguments]

Commands:
  signin [identifier]          Sign in, prompting for each factor
                               (--password asks for the password up front)
  signin --ticket <ticket>     Sign in with an invitation ticket
  signup [flags]               Create an account (--email, --phone, --username,
                               --first-name, --last-name, --ticket, --invitation,
                               --link, --no-password)
  whoami                       Show the active session and its token
  signout                      End every session on this client
  env                          Show the instance environment
  check                        Check the Frontend API's response shapes
  config                       Show the config file
  config get <key>             Print one setting
  config set <key> <value>     Change one setting
  config path                  Print the config file location
  version                      Print the clerkflow version

Environment:
  %s    Override the config file path
  %s    Override frontend_api
`, version, config.EnvConfig, config.EnvFrontendAPI)
}

// app holds what every command needs: the loaded config, the terminal and a
// logger.
type app struct {
	cfg        *config.Config
	configPath string
	term       *prompter
	out        io.Writer
	logger     *slog.Logger
}

func newApp(opts options, in io.Reader, out, errOut io.Writer) (*app, error) {
	path := opts.configPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, err
		}
		path = p
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if opts.frontendAPI != "" {
		cfg.FrontendAPI = opts.frontendAPI
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelDebug
	}
	return &app{
		cfg:        cfg,
		configPath: path,
		term:       newPrompter(in, out),
		out:        out,
		logger:     slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level})),
	}, nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "signin":
		return a.cmdSignIn(ctx, args)
	case "signup":
		return a.cmdSignUp(ctx, args)
	case "whoami":
		return a.cmdWhoami(ctx)
	case "signout":
		return a.cmdSignOut(ctx)
	case "env":
		return a.cmdEnv(ctx)
	case "check":
		return a.cmdCheck(ctx)
	case "config":
		return a.cmdConfig(args)
	default:
		return fmt.Errorf("unknown command %q (run clerkflow help)", cmd)
	}
}
