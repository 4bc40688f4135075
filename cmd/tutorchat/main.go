package main

import "TutorChat/internal/cli"

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cli.Execute(version, commit)
}
