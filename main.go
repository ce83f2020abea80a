package main

import "github.com/eddielth/turbine-fleet/cli"

func main() {
	cli.Execute()
}
