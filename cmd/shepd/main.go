package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the root command and every subcommand.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	addFlags := &AddFlags{}
	serviceFlags := &ServiceFlags{}
	statusFlags := &ServiceFlags{}
	logsFlags := &LogsFlags{}
	eventsFlags := &EventsFlags{}

	shepdCommand := command{flags: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createPingCommand(shepdCommand),
		createVersionCommand(shepdCommand),
		createInfoCommand(shepdCommand),
		createShutdownCommand(shepdCommand),
		createAddCommand(shepdCommand, addFlags),
		createRemoveCommand(shepdCommand, serviceFlags),
		createStartCommand(shepdCommand, serviceFlags),
		createStopCommand(shepdCommand, serviceFlags),
		createRestartCommand(shepdCommand, serviceFlags),
		createGetCommand(shepdCommand, serviceFlags),
		createStatusCommand(shepdCommand, statusFlags),
		createListCommand(shepdCommand),
		createUpdateCommand(shepdCommand, serviceFlags),
		createLogsCommand(shepdCommand, logsFlags),
		createEventsCommand(shepdCommand, eventsFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "shepd",
		Short: "Service supervision daemon with GitHub-release auto-update",
		Long: `Shepd supervises long-running services: it starts and restarts them,
watches their configuration directory, polls GitHub releases for new
versions, and swaps binaries in place with rollback on failure.

Examples:
  shepd serve                         # Start the daemon in the foreground
  shepd serve --daemonize             # Start in the background
  shepd add --name=web --repository=acme/web --binary=~/bin/web --auto-start
  shepd status --name=web
  shepd logs --name=web --follow`,
	}

	root.PersistentFlags().StringVar(&flags.Socket, "socket", "", "daemon socket path (default: runtime dir)")
	root.PersistentFlags().DurationVar(&flags.Timeout, "timeout", 10*time.Second, "request timeout")

	return root
}

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cmd := &cobra.Command{
		Use:   "serve [shepd.toml]",
		Short: "Start the shepd daemon",
		Long: `Start the shepd daemon. Global settings load from a TOML file; per-service
configuration lives as one JSON file per service in the config directory.

Examples:
  shepd serve                       # Foreground, default settings path
  shepd serve shepd.toml            # Foreground, explicit settings file
  shepd serve --daemonize           # Detach into the background`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(serveFlags, globalFlags, args)
		},
	}

	cmd.Flags().StringVar(&serveFlags.ConfigPath, "config", "", "path to TOML settings file")
	cmd.Flags().BoolVar(&serveFlags.Foreground, "foreground", false, "stay in the foreground even with --daemonize")
	cmd.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run as daemon in background")
	cmd.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to file")

	return cmd
}

func createPingCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the daemon is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Ping()
		},
	}
}

func createVersionCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Version()
		},
	}
}

func createInfoCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show daemon status (pid, uptime, services, connections)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Info()
		},
	}
}

func createShutdownCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Ask the daemon to shut down",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Shutdown()
		},
	}
}

func createAddCommand(c command, flags *AddFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a managed service",
		Long: `Add a service by writing its configuration file into the daemon's config
directory and registering it with the supervisor.

Examples:
  shepd add --name=web --repository=acme/web --binary=~/bin/web
  shepd add --name=api --repository=acme/api --binary=/opt/api/api \
            --args=--port --args=9000 --env PORT=9000 --auto-start --auto-restart`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Add(*flags)
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (required)")
	cmd.Flags().StringVar(&flags.Repository, "repository", "", "GitHub repository owner/repo (required)")
	cmd.Flags().StringVar(&flags.Binary, "binary", "", "path to the service binary (required)")
	cmd.Flags().StringVar(&flags.WorkDir, "workdir", "", "working directory")
	cmd.Flags().StringArrayVar(&flags.Args, "args", nil, "argument to pass to the binary (repeatable)")
	cmd.Flags().StringArrayVar(&flags.Env, "env", nil, "environment override KEY=VALUE (repeatable)")
	cmd.Flags().BoolVar(&flags.AutoStart, "auto-start", false, "start the service when the daemon starts")
	cmd.Flags().BoolVar(&flags.AutoRestart, "auto-restart", false, "restart the service when it crashes")
	cmd.Flags().IntVar(&flags.CheckInterval, "check-interval", 0, "update check interval in seconds (default 300)")

	for _, name := range []string{"name", "repository", "binary"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}

func createRemoveCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a managed service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Remove(flags.Name)
		},
	}
	addNameFlag(cmd, flags)
	return cmd
}

func createStartCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Start(flags.Name)
		},
	}
	addNameFlag(cmd, flags)
	return cmd
}

func createStopCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Stop(flags.Name)
		},
	}
	addNameFlag(cmd, flags)
	return cmd
}

func createRestartCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart a service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Restart(flags.Name)
		},
	}
	addNameFlag(cmd, flags)
	return cmd
}

func createGetCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show a service's configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Get(flags.Name)
		},
	}
	addNameFlag(cmd, flags)
	return cmd
}

func createStatusCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show service status (all services when --name is omitted)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(flags.Name)
		},
	}
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (optional)")
	return cmd
}

func createListCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.List()
		},
	}
}

func createUpdateCommand(c command, flags *ServiceFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for or apply a service update",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Check whether a newer release is available",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.UpdateCheck(flags.Name)
		},
	}
	addNameFlag(check, flags)

	apply := &cobra.Command{
		Use:   "apply",
		Short: "Download and install the latest release",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.UpdateApply(flags.Name)
		},
	}
	addNameFlag(apply, flags)

	cmd.AddCommand(check, apply)
	return cmd
}

func createLogsCommand(c command, flags *LogsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show or follow a service's log",
		Long: `Print the last lines of a service's combined stdout/stderr log.
With --follow the command stays attached and prints new lines as the
service writes them.

Examples:
  shepd logs --name=web
  shepd logs --name=web --lines=200
  shepd logs --name=web --follow`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Logs(*flags)
		},
	}

	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (required)")
	cmd.Flags().IntVar(&flags.Lines, "lines", 50, "number of trailing lines")
	cmd.Flags().BoolVar(&flags.Follow, "follow", false, "stream new lines until interrupted")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
	return cmd
}

func createEventsCommand(c command, flags *EventsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Subscribe to daemon notifications and print them",
		Long: `Stay attached to the daemon and print every notification as one JSON
line. Filters narrow the stream by event kind and service name.

Examples:
  shepd events
  shepd events --events=service.started,service.stopped
  shepd events --services=web,api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Events(*flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.Events, "events", nil, "event kinds to receive (default: all)")
	cmd.Flags().StringSliceVar(&flags.Services, "services", nil, "service names to receive (default: all)")
	return cmd
}

func addNameFlag(cmd *cobra.Command, flags *ServiceFlags) {
	cmd.Flags().StringVar(&flags.Name, "name", "", "service name (required)")
	if err := cmd.MarkFlagRequired("name"); err != nil {
		panic(err)
	}
}
