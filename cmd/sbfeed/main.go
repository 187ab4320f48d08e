package main

import "sbfeed/internal/cli"

func main() {
	cli.Execute()
}
