// Command casectl inspects what a CaseDesk session may do, using the same
// permission oracle the web client runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/oracle"
	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/internal/realtime"
	"github.com/charlesng35/casedesk/pkg/logger"
)

const usage = `usage: casectl [flags] <command> [args]

commands:
  check <permission>...   report whether each permission is granted
  modules                 list modules and whether they are accessible
  landing                 print the post-login landing path
  watch                   stream permission changes until interrupted
`

type options struct {
	Server   string
	Token    string
	Timeout  time.Duration
	Retries  int
	LogLevel string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "casectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("casectl", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.Usage = func() {
		fmt.Fprint(out, usage+"\nflags:\n")
		fs.PrintDefaults()
	}
	fs.String("server", "http://localhost:8000", "CaseDesk API base URL")
	fs.String("token", "", "Access token (or CASECTL_TOKEN)")
	fs.Duration("timeout", 10*time.Second, "Per-request timeout")
	fs.Int("retries", 0, "Retries on connection errors and 5xx responses")
	fs.String("log-level", "warn", "Log level")
	fs.SetInterspersed(false)

	if err := fs.Parse(args); err != nil {
		return err
	}

	opts, err := loadOptions(fs)
	if err != nil {
		return err
	}
	if err := logger.Init(opts.LogLevel, "console"); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) == 0 {
		fs.Usage()
		return errors.New("command is required")
	}

	command, params := rest[0], rest[1:]
	switch command {
	case "check":
		if len(params) == 0 {
			return errors.New("check: at least one permission name is required")
		}
		return withOracle(ctx, opts, params, func(o *oracle.Oracle) error { return check(ctx, o, params, out) })
	case "modules":
		return withOracle(ctx, opts, nil, func(o *oracle.Oracle) error { return modules(ctx, o, out) })
	case "landing":
		return withOracle(ctx, opts, nil, func(o *oracle.Oracle) error {
			fmt.Fprintln(out, gate.Landing(ctx, o))
			return nil
		})
	case "watch":
		return withOracle(ctx, opts, nil, func(o *oracle.Oracle) error { return watch(ctx, opts, o, out) })
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// loadOptions resolves flags with CASECTL_ environment fallbacks.
func loadOptions(fs *pflag.FlagSet) (options, error) {
	v := viper.New()
	v.SetEnvPrefix("CASECTL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return options{}, err
	}

	opts := options{
		Server:   strings.TrimSpace(v.GetString("server")),
		Token:    strings.TrimSpace(v.GetString("token")),
		Timeout:  v.GetDuration("timeout"),
		Retries:  v.GetInt("retries"),
		LogLevel: v.GetString("log-level"),
	}
	if opts.Token == "" {
		return options{}, errors.New("an access token is required (--token or CASECTL_TOKEN)")
	}
	return opts, nil
}

func withOracle(ctx context.Context, opts options, names []string, fn func(*oracle.Oracle) error) error {
	transport, err := oracle.NewHTTPTransport(oracle.HTTPConfig{
		BaseURL:  opts.Server,
		Token:    oracle.StaticToken(opts.Token),
		RetryMax: opts.Retries,
		Timeout:  opts.Timeout,
	})
	if err != nil {
		return err
	}

	var once sync.Once
	expired := make(chan struct{})
	o, err := oracle.New(transport, oracle.Options{
		FetchTimeout:  opts.Timeout,
		Permissions:   names,
		OnAuthExpired: func() { once.Do(func() { close(expired) }) },
	})
	if err != nil {
		return err
	}
	defer o.Dispose()

	if err := o.Start(); err != nil {
		return err
	}
	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	if err := o.WaitReady(waitCtx); err != nil {
		return fmt.Errorf("waiting for permissions: %w", err)
	}

	select {
	case <-expired:
		return errors.New("access token rejected; log in again")
	default:
	}
	return fn(o)
}

func check(ctx context.Context, o *oracle.Oracle, names []string, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, raw := range names {
		name, err := permissions.ParseName(raw)
		if err != nil {
			fmt.Fprintf(tw, "%s\tinvalid: %v\n", raw, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\n", name, verdict(o.HasPermissionAsync(ctx, name.String())))
	}
	return tw.Flush()
}

func modules(ctx context.Context, o *oracle.Oracle, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, m := range permissions.Modules() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Path, verdict(o.CanAccessModuleAsync(ctx, m.Name)))
	}
	return tw.Flush()
}

// watch subscribes to the permissions stream and refreshes the oracle on
// every change, printing the newly granted set.
func watch(ctx context.Context, opts options, o *oracle.Oracle, out io.Writer) error {
	endpoint, err := streamURL(opts.Server, opts.Token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.Timeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", realtime.StreamPermissions, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	fmt.Fprintf(out, "watching %s (%d granted)\n", realtime.StreamPermissions, len(o.Granted()))
	for {
		var msg realtime.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}

		switch msg.Event {
		case realtime.EventSessionLogout:
			fmt.Fprintln(out, "session ended")
			return nil
		case realtime.EventPermissionsChanged:
			if err := o.Refresh(ctx); err != nil {
				return err
			}
			fmt.Fprintf(out, "permissions changed: %s\n", strings.Join(o.Granted(), ","))
		}
	}
}

func streamURL(server, token string) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path += "/api/realtime"
	u.RawQuery = url.Values{"access_token": []string{token}}.Encode()
	return u.String(), nil
}

func verdict(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
