package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/shepd/internal/rpc"
	"github.com/loykin/shepd/pkg/client"
)

// command implements the client subcommands over one short-lived
// connection per invocation.
type command struct {
	flags *GlobalFlags
}

func (c command) options() client.Options {
	return client.Options{
		SocketPath: c.flags.Socket,
		Timeout:    c.flags.Timeout,
	}
}

// withClient connects, runs fn, and closes. A missing socket becomes a
// friendly "daemon not running" error instead of a raw dial failure.
func (c command) withClient(fn func(ctx context.Context, cl *client.Client) error) error {
	cl := client.New(c.options())
	timeout := c.flags.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := cl.Connect(ctx); err != nil {
		if rpc.IsDaemonNotRunning(err) {
			return fmt.Errorf("daemon is not running (no socket at %s); start it with 'shepd serve'", cl.SocketPath())
		}
		return err
	}
	defer func() { _ = cl.Close() }()
	return fn(ctx, cl)
}

func (c command) Ping() error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		start := time.Now()
		if err := cl.Ping(ctx); err != nil {
			return err
		}
		fmt.Printf("pong (%s)\n", time.Since(start).Round(time.Microsecond))
		return nil
	})
}

func (c command) Version() error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		v, err := cl.Version(ctx)
		if err != nil {
			return err
		}
		fmt.Println(v)
		return nil
	})
}

func (c command) Info() error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		st, err := cl.DaemonStatus(ctx)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	})
}

func (c command) Shutdown() error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		if err := cl.ShutdownDaemon(ctx); err != nil {
			return err
		}
		fmt.Println("shutdown requested")
		return nil
	})
}

func (c command) Add(f AddFlags) error {
	env, err := parseEnvPairs(f.Env)
	if err != nil {
		return err
	}
	cfg := client.ServiceConfig{
		Name:                 f.Name,
		Repository:           f.Repository,
		BinaryPath:           f.Binary,
		WorkingDirectory:     f.WorkDir,
		Args:                 f.Args,
		Env:                  env,
		AutoStart:            f.AutoStart,
		AutoRestart:          f.AutoRestart,
		CheckIntervalSeconds: f.CheckInterval,
	}
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		if err := cl.AddService(ctx, cfg); err != nil {
			return err
		}
		fmt.Printf("service %q added\n", f.Name)
		return nil
	})
}

func (c command) Remove(name string) error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		if err := cl.RemoveService(ctx, name); err != nil {
			return err
		}
		fmt.Printf("service %q removed\n", name)
		return nil
	})
}

func (c command) Start(name string) error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		st, err := cl.StartService(ctx, name)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	})
}

func (c command) Stop(name string) error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		st, err := cl.StopService(ctx, name)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	})
}

func (c command) Restart(name string) error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		st, err := cl.RestartService(ctx, name)
		if err != nil {
			return err
		}
		printJSON(st)
		return nil
	})
}

func (c command) Get(name string) error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		cfg, err := cl.GetService(ctx, name)
		if err != nil {
			return err
		}
		printJSON(cfg)
		return nil
	})
}

// Status prints one service's status, or all of them when name is empty.
func (c command) Status(name string) error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		if name != "" {
			st, err := cl.ServiceStatus(ctx, name)
			if err != nil {
				return err
			}
			printJSON(st)
			return nil
		}
		all, err := cl.AllServiceStatuses(ctx)
		if err != nil {
			return err
		}
		printJSON(all)
		return nil
	})
}

func (c command) List() error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		services, err := cl.ListServices(ctx)
		if err != nil {
			return err
		}
		printJSON(services)
		return nil
	})
}

func (c command) UpdateCheck(name string) error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		check, err := cl.CheckUpdate(ctx, name)
		if err != nil {
			return err
		}
		printJSON(check)
		return nil
	})
}

func (c command) UpdateApply(name string) error {
	return c.withClient(func(ctx context.Context, cl *client.Client) error {
		res, err := cl.ApplyUpdate(ctx, name)
		if err != nil {
			return err
		}
		printJSON(res)
		return nil
	})
}

func (c command) Logs(f LogsFlags) error {
	if !f.Follow {
		return c.withClient(func(ctx context.Context, cl *client.Client) error {
			logs, err := cl.Logs(ctx, f.Name, f.Lines)
			if err != nil {
				return err
			}
			for _, line := range logs.Lines {
				fmt.Println(line)
			}
			return nil
		})
	}
	return c.followLogs(f)
}

// followLogs keeps the connection open and prints log.line events until
// interrupted or the daemon announces shutdown.
func (c command) followLogs(f LogsFlags) error {
	done := make(chan struct{})
	var once sync.Once
	opts := c.options()
	opts.OnEvent = func(event string, params json.RawMessage) {
		switch event {
		case "log.line":
			var ev struct {
				Line string `json:"line"`
			}
			if json.Unmarshal(params, &ev) == nil {
				fmt.Println(ev.Line)
			}
		case "daemon.shutdown":
			once.Do(func() { close(done) })
		}
	}
	cl := client.New(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := cl.Connect(ctx)
	cancel()
	if err != nil {
		if rpc.IsDaemonNotRunning(err) {
			return fmt.Errorf("daemon is not running (no socket at %s)", cl.SocketPath())
		}
		return err
	}
	defer func() { _ = cl.Close() }()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cl.Subscribe(ctx, []string{"log.line", "daemon.shutdown"}, []string{f.Name}); err != nil {
		return err
	}
	if err := cl.StreamLogs(ctx, f.Name, f.Lines); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-done:
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	_ = cl.StopLogStream(stopCtx, f.Name)
	return nil
}

// Events subscribes with the given filters and prints every notification
// as a JSON line until interrupted.
func (c command) Events(f EventsFlags) error {
	done := make(chan struct{})
	var once sync.Once
	opts := c.options()
	opts.OnEvent = func(event string, params json.RawMessage) {
		line := struct {
			Event  string          `json:"event"`
			Params json.RawMessage `json:"params,omitempty"`
		}{event, params}
		b, _ := json.Marshal(line)
		fmt.Println(string(b))
		if event == "daemon.shutdown" {
			once.Do(func() { close(done) })
		}
	}
	cl := client.New(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := cl.Connect(ctx)
	cancel()
	if err != nil {
		if rpc.IsDaemonNotRunning(err) {
			return fmt.Errorf("daemon is not running (no socket at %s)", cl.SocketPath())
		}
		return err
	}
	defer func() { _ = cl.Close() }()

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := cl.Subscribe(ctx, f.Events, f.Services); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-done:
	}
	return nil
}
