package main

import "github.com/devicelab-dev/desk-runner/pkg/cli"

func main() {
	cli.Execute()
}
