package main

import "mintwatch/internal/cli"

func main() {
	cli.Execute()
}
