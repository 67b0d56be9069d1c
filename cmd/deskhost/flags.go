package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

type GlobalFlags struct {
	ConfigPath string
}

type RunFlags struct {
	ConfigPath string
	// Dev forces the development invocation regardless of build and env.
	Dev    bool
	Listen string
}

type BridgeFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Output     string
}

type StatusFlags struct {
	BridgeFlags
	Usage bool
	Watch bool
	// Interval between polls in watch mode
	Interval time.Duration
}

type HistoryFlags struct {
	BridgeFlags
	Limit int
}

type CheckURLFlags struct {
	ConfigPath string
	Open       bool
	Output     string
}
