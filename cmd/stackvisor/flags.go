package main

import "time"

// Flag structs to decouple cobra from logic for testing.

type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

type RunFlags struct {
	ConfigPath string
	LogLevel   string
	RunOnce    bool
}

type ProbeFlags struct {
	Endpoint string
	Payload  string // JSON; empty means the iris sample
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration
	LogLevel string
}

type StubFlags struct {
	Listen   string
	LogLevel string
}

type StatusFlags struct {
	ConfigPath string
	APIUrl     string // query a running supervisor instead of PID files
	APITimeout time.Duration
}
