// Command mapsyncctl signs in, writes positions and watches the users
// mapping from a terminal, using the same configuration as the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/auth"
	"github.com/otiai10/mapsync/internal/config"
	"github.com/otiai10/mapsync/internal/facade"
	"github.com/otiai10/mapsync/internal/logging"
	"github.com/otiai10/mapsync/internal/platform"
	"github.com/otiai10/mapsync/internal/presence"
	"github.com/otiai10/mapsync/internal/streamclient"
)

const usage = `Usage: mapsyncctl [--config FILE] <command> [flags]

Commands:
  watch    print every users snapshot as one JSON line until interrupted
           (--server URL follows a running server instead of the store)
  update   write one user's position
  login    sign in with a Google ID token and write the signed-in user's position
`

// errUsage marks errors caused by bad arguments
var errUsage = errors.New("usage error")

func main() {
	_ = godotenv.Load(".env.localdev")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(runCLI(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// runCLI executes one command and returns the process exit code
func runCLI(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := pflag.NewFlagSet("mapsyncctl", pflag.ContinueOnError)
	global.SetOutput(stderr)
	global.SetInterspersed(false)
	configPath := global.String("config", "", "YAML config file (environment variables override it)")
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, cmdArgs := global.Arg(0), global.Args()[1:]
	var run func(ctx context.Context, env *cliEnv, args []string) error
	switch cmd {
	case "watch":
		run = watchCmd
	case "update":
		run = updateCmd
	case "login":
		run = loginCmd
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	env := &cliEnv{cfg: cfg, logger: logger, stdout: stdout, stderr: stderr}
	if err := run(ctx, env, cmdArgs); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(stderr, err)
			return 2
		}
		fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return 1
	}
	return 0
}

// cliEnv carries what every command needs
type cliEnv struct {
	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

// open builds a facade over the configured store. The returned close
// function releases the store.
func (e *cliEnv) open(ctx context.Context, withSignIn bool) (*facade.Facade, func() error, error) {
	var app *firebase.App
	if e.cfg.Store.Backend == config.BackendRTDB {
		var err error
		app, err = platform.NewApp(ctx, e.cfg.Firebase)
		if err != nil {
			return nil, nil, err
		}
	}

	st, err := platform.OpenStore(ctx, e.cfg, app, e.logger)
	if err != nil {
		return nil, nil, err
	}

	var signIn auth.GoogleSignIn
	if withSignIn {
		provider, err := auth.NewGoogleProvider(ctx, auth.GoogleProviderConfig{
			APIKey:     e.cfg.Firebase.APIKey,
			RequestURI: e.cfg.Auth.RequestURI,
			TenantID:   e.cfg.Auth.TenantID,
		})
		if err != nil {
			return nil, nil, multierr.Append(err, st.Close())
		}
		signIn = provider
	}

	f := facade.New(auth.NewClient(signIn), st, facade.WithLogger(e.logger))
	return f, st.Close, nil
}

func watchCmd(ctx context.Context, env *cliEnv, args []string) (err error) {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	fs.SetOutput(env.stderr)
	server := fs.String("server", "", "follow a mapsync server's stream instead of reading the store")
	token := fs.String("token", "", "Firebase ID token for --server")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	enc := json.NewEncoder(env.stdout)
	var writeErr error
	emit := func(users presence.Users) {
		if writeErr != nil {
			return
		}
		writeErr = enc.Encode(users)
	}

	if *server != "" {
		client, err := streamclient.NewClient(streamclient.Config{
			ServerURL:   *server,
			AccessToken: *token,
			Logger:      env.logger,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return multierr.Append(client.Run(ctx, emit), writeErr)
	}

	f, closeStore, err := env.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	sub, err := f.ListenUsers(ctx, emit)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	<-sub.Done()
	return multierr.Append(sub.Err(), writeErr)
}

func updateCmd(ctx context.Context, env *cliEnv, args []string) (err error) {
	fs := pflag.NewFlagSet("update", pflag.ContinueOnError)
	fs.SetOutput(env.stderr)
	uid := fs.String("uid", "", "user id (required)")
	lat := fs.Float64("lat", 0, "latitude")
	lng := fs.Float64("lng", 0, "longitude")
	tipo := fs.String("tipo", "", "category tag")
	name := fs.String("name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *uid == "" {
		return fmt.Errorf("%w: --uid is required", errUsage)
	}
	if !fs.Changed("lat") || !fs.Changed("lng") {
		return fmt.Errorf("%w: --lat and --lng are required", errUsage)
	}

	f, closeStore, err := env.open(ctx, false)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	return f.UpdateUserPos(ctx, *uid, *lat, *lng, *tipo, *name)
}

func loginCmd(ctx context.Context, env *cliEnv, args []string) (err error) {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	fs.SetOutput(env.stderr)
	token := fs.String("google-id-token", "", "Google OAuth ID token (required)")
	lat := fs.Float64("lat", 0, "latitude")
	lng := fs.Float64("lng", 0, "longitude")
	tipo := fs.String("tipo", "", "category tag")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *token == "" {
		return fmt.Errorf("%w: --google-id-token is required", errUsage)
	}

	f, closeStore, err := env.open(ctx, true)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	return login(ctx, f, env, *token, *lat, *lng, *tipo)
}

// login signs in, writes the session user's position and signs out again,
// reporting every auth transition
func login(ctx context.Context, f *facade.Facade, env *cliEnv, token string, lat, lng float64, tipo string) error {
	unsubscribe := f.ListenAuth(func(s *auth.Session) {
		if s == nil {
			fmt.Fprintln(env.stderr, "signed out")
			return
		}
		fmt.Fprintf(env.stderr, "signed in as %s (%s)\n", s.DisplayName, s.UID)
	})
	defer unsubscribe()

	session, err := f.LoginGoogle(ctx, token)
	if err != nil {
		return err
	}
	defer f.Logout()

	if err := f.UpdateUserPos(ctx, session.UID, lat, lng, tipo, session.DisplayName); err != nil {
		return err
	}
	return json.NewEncoder(env.stdout).Encode(map[string]string{
		"uid":         session.UID,
		"displayName": session.DisplayName,
	})
}
