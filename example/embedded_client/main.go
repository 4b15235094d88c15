package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/loykin/shepd"
)

// embedded_client: connect to a running shepd daemon, print its status,
// and watch service events for a few seconds. Start a daemon first with
// `shepd serve`.
func main() {
	cl := shepd.NewClient(shepd.ClientOptions{
		Timeout: 5 * time.Second,
		OnEvent: func(event string, params json.RawMessage) {
			fmt.Printf("event %s %s\n", event, params)
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := cl.Connect(ctx); err != nil {
		if shepd.IsDaemonNotRunning(err) {
			fmt.Println("no daemon running; start one with 'shepd serve'")
			return
		}
		panic(err)
	}
	defer func() { _ = cl.Close() }()

	st, err := cl.DaemonStatus(ctx)
	if err != nil {
		panic(err)
	}
	fmt.Printf("daemon v%s, pid %d, %d services\n", st.Version, st.PID, st.Services)

	statuses, err := cl.AllServiceStatuses(ctx)
	if err != nil {
		panic(err)
	}
	for _, s := range statuses {
		fmt.Printf("  %-20s %s\n", s.Name, s.Status)
	}

	// Watch everything for a few seconds.
	if err := cl.Subscribe(ctx, nil, nil); err != nil {
		panic(err)
	}
	fmt.Println("watching events for 5s...")
	time.Sleep(5 * time.Second)
}
