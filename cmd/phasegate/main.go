package main

import "github.com/marcus/phasegate/cmd/phasegate/commands"

func main() {
	commands.Execute()
}
