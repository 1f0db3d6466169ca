package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	// Once broadcasts a single heartbeat and exits.
	Once bool
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("peerlink-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.BoolVar(&opts.Once, "once", false, "Broadcast one heartbeat and exit")
	_ = fs.Parse(args)
	return opts
}
