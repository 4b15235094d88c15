package main

import "time"

// Flag structs decouple cobra from command logic for testing.

// GlobalFlags are the persistent flags every client command honors.
type GlobalFlags struct {
	Socket  string
	Timeout time.Duration
}

type AddFlags struct {
	Name          string
	Repository    string
	Binary        string
	WorkDir       string
	Args          []string
	Env           []string
	AutoStart     bool
	AutoRestart   bool
	CheckInterval int
}

type ServiceFlags struct {
	Name string
}

type LogsFlags struct {
	Name   string
	Lines  int
	Follow bool
}

type EventsFlags struct {
	Events   []string
	Services []string
}

type ServeFlags struct {
	ConfigPath string
	Foreground bool
	Daemonize  bool
	LogFile    string
}
