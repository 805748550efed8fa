// Package main is the single-binary entrypoint for the agentmesh node.
package main

import "github.com/agentmesh-network/agentmesh/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
