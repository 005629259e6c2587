package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"taeu.kr/cmdbconsole/internal/auth"
	"taeu.kr/cmdbconsole/internal/config"
	"taeu.kr/cmdbconsole/internal/console"
	"taeu.kr/cmdbconsole/internal/transport"
)

const commandTimeout = 60 * time.Second

type app struct {
	in         io.Reader
	out        io.Writer
	configFile string

	conf    *config.Config
	session *console.Session
}

func defaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "cmdbconsole", "config.yaml")
}

func newRootCommand(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	root := &cobra.Command{
		Use:           "cmdbconsole",
		Short:         "Command line client for the CMDB console API",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.configFile, "config", defaultConfigFile(), "config file (yaml)")

	root.AddCommand(
		a.loginCommand(),
		a.logoutCommand(),
		a.whoamiCommand(),
		a.statusCommand(),
		a.requestCommand(),
		a.navCommand(),
		a.canCommand(),
		a.routesCommand(),
		a.passwdCommand(),
		a.configCommand(),
	)
	return root
}

func (a *app) loadConfig() error {
	conf, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.conf = conf

	zerolog.SetGlobalLevel(conf.LogLevel())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	return nil
}

// withSession opens the configured session around fn and closes it after.
func (a *app) withSession(fn func(ctx context.Context, cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := a.loadConfig(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		s, err := console.Open(ctx, a.conf)
		if err != nil {
			return err
		}
		a.session = s
		defer func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("[Main] failed to close session")
			}
			a.session = nil
		}()

		return fn(ctx, cmd, args)
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) loginCommand() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the credential pair",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(a.in).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				password = strings.TrimRight(line, "\r\n")
			}

			user, err := a.session.Auth.Login(ctx, username, password)
			if err != nil {
				return err
			}
			if user != nil {
				a.printf("logged in as %s (%s)\n", user.Username, user.Role)
			} else {
				a.printf("logged in as %s\n", username)
			}
			return nil
		}),
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

func (a *app) logoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Notify the server and forget the stored credentials",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			a.session.Auth.Logout(ctx)
			a.printf("logged out\n")
			return nil
		}),
	}
}

func (a *app) whoamiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current user and permissions",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			identity, err := a.session.Auth.FetchIdentity(ctx)
			if err != nil {
				return err
			}
			a.printf("username:    %s\n", identity.Username)
			a.printf("role:        %s\n", identity.Role)
			if identity.Email != "" {
				a.printf("email:       %s\n", identity.Email)
			}
			if identity.Department != "" {
				a.printf("department:  %s\n", identity.Department)
			}
			a.printf("permissions: %s\n", strings.Join(identity.Permissions, ", "))
			return nil
		}),
	}
}

func (a *app) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored credentials without contacting the server",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			st := a.session.Status(time.Now())
			if !st.Authenticated {
				a.printf("not logged in\n")
				return nil
			}
			a.printf("logged in as %s (%s)\n", st.Username, st.Role)
			a.printf("access token expires in %s\n", st.AccessExpiresIn.Round(time.Second))
			a.printf("refresh token expires in %s\n", st.RefreshExpiresIn.Round(time.Second))
			return nil
		}),
	}
}

func (a *app) requestCommand() *cobra.Command {
	var method, data string

	cmd := &cobra.Command{
		Use:   "request <path>",
		Short: "Send an authorized request and print the response data",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			spec := transport.RequestSpec{Method: strings.ToUpper(method), Path: args[0]}
			if data != "" {
				spec.Body = json.RawMessage(data)
			}

			env, err := a.session.Client.Send(ctx, spec)
			if err != nil {
				return err
			}
			if err := env.Decode(nil); err != nil {
				return err
			}

			var pretty bytes.Buffer
			if err := json.Indent(&pretty, env.Data, "", "  "); err != nil {
				a.printf("%s\n", env.Message)
				return nil
			}
			a.printf("%s\n", pretty.String())
			return nil
		}),
	}
	cmd.Flags().StringVarP(&method, "method", "X", http.MethodGet, "HTTP method")
	cmd.Flags().StringVarP(&data, "data", "d", "", "JSON request body")
	return cmd
}

func (a *app) navCommand() *cobra.Command {
	var from string

	cmd := &cobra.Command{
		Use:   "nav <route>",
		Short: "Evaluate a console navigation",
		Args:  cobra.ExactArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			a.session.Router.Reset(from)

			nav, err := a.session.Router.Push(ctx, args[0])
			switch {
			case errors.Is(err, console.ErrNavigationCanceled):
				a.printf("cancelled: %s\n", nav.Warning)
				return nil
			case err != nil:
				return err
			case nav.Route != nav.To:
				a.printf("redirected: %s\n", nav.Route)
			default:
				a.printf("allowed: %s\n", nav.Route)
			}
			return nil
		}),
	}
	cmd.Flags().StringVar(&from, "from", "/", "route the navigation starts from")
	return cmd
}

func (a *app) canCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "can <permission>...",
		Short: "Report whether the current user holds any of the permissions",
		Args:  cobra.MinimumNArgs(1),
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if _, ok := a.session.Store.Identity(); !ok {
				if _, err := a.session.Auth.FetchIdentity(ctx); err != nil {
					return err
				}
			}
			a.printf("%t\n", a.session.Store.HasAnyPermission(args...))
			return nil
		}),
	}
}

func (a *app) routesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the menu routes the current user may open",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			identity, err := a.session.Auth.FetchIdentity(ctx)
			if err != nil {
				return err
			}
			for _, route := range a.session.Guard.VisibleRoutes(identity) {
				a.printf("%-32s %s\n", route.Path, route.Title)
			}
			return nil
		}),
	}
}

func (a *app) passwdCommand() *cobra.Command {
	var oldPassword, newPassword string

	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Change the current user's password",
		Args:  cobra.NoArgs,
		RunE: a.withSession(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if err := a.session.Auth.ChangePassword(ctx, oldPassword, newPassword); err != nil {
				return err
			}
			a.printf("password changed (strength %d/100)\n", auth.PasswordStrength(newPassword))
			return nil
		}),
	}
	cmd.Flags().StringVar(&oldPassword, "old", "", "current password")
	cmd.Flags().StringVar(&newPassword, "new", "", "new password")
	_ = cmd.MarkFlagRequired("old")
	_ = cmd.MarkFlagRequired("new")
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.loadConfig(); err != nil {
					return err
				}
				a.printf("api.base_url:          %s\n", a.conf.API.BaseURL)
				a.printf("api.timeout:           %s\n", a.conf.API.Timeout)
				a.printf("api.refresh_path:      %s\n", a.conf.API.RefreshPath)
				a.printf("storage.path:          %s\n", a.conf.Storage.Path)
				a.printf("console.login_route:   %s\n", a.conf.Console.LoginRoute)
				a.printf("console.landing_route: %s\n", a.conf.Console.LandingRoute)
				a.printf("log.level:             %s\n", a.conf.Log.Level)
				return nil
			},
		},
		&cobra.Command{
			Use:   "save",
			Short: "Write the effective configuration to the config file",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.loadConfig(); err != nil {
					return err
				}
				if err := a.conf.Save(a.configFile); err != nil {
					return err
				}
				a.printf("saved %s\n", a.configFile)
				return nil
			},
		},
	)
	return cmd
}
