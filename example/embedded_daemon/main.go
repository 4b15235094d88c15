package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/loykin/shepd"
)

// embedded_daemon: run a full shepd daemon inside another program. All
// state lives under a temp directory so the example leaves nothing
// behind; point the paths at real locations for actual use.
func main() {
	base, err := os.MkdirTemp("", "shepd-embedded-")
	if err != nil {
		panic(err)
	}
	defer func() { _ = os.RemoveAll(base) }()

	st := shepd.DefaultSettings()
	st.ConfigDir = filepath.Join(base, "services")
	st.SocketPath = filepath.Join(base, "shepd.sock")
	st.ScratchDir = filepath.Join(base, "downloads")
	st.LogDir = filepath.Join(base, "logs")
	st.AutoUpdate = false

	d, err := shepd.NewDaemon("embedded", st)
	if err != nil {
		panic(err)
	}
	if err := d.Start(); err != nil {
		panic(err)
	}
	defer d.Shutdown()

	fmt.Println("Embedded daemon example")
	fmt.Println("  Socket:", d.SocketPath())
	fmt.Println("  Config dir:", st.ConfigDir)
	fmt.Println("Drop a service JSON file into the config dir and the daemon")
	fmt.Println("picks it up; or talk to the socket with shepd.NewClient.")
}
