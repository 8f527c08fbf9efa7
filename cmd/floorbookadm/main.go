package main

import "github.com/floorbook/floorbook/internal/cli"

func main() {
	cli.Execute()
}
