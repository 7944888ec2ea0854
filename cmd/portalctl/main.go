package main

import "github.com/medforge/portal/internal/cli"

func main() {
	cli.Execute()
}
