package main

import "time"

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	ConfigPath string
	Service    bool
	Daemonize  bool
	LogFile    string
}

type StatusFlags struct {
	ConfigPath string
	// Remote wrapper connection
	APIUrl     string
	APITimeout time.Duration
}

type CommandFlags struct {
	ConfigPath string
	File       string
}

type ControlFlags struct {
	APIUrl     string
	APITimeout time.Duration
}
