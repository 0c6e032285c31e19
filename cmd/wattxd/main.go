package main

import "github.com/The-Mining-Game/WATTx/cmd/wattxd/commands"

func main() {
	commands.Execute()
}
