// Package main hosts the converto CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into
// conversion submissions against the in-process scheduler, history lookups,
// backend availability checks, and configuration scaffolding. It centralizes
// configuration resolution, logging setup, and core assembly so subcommands
// can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
