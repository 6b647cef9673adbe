package main

import "github.com/cyanoflame/FluffleDiscordBot-sub000/cmd"

func main() {
	cmd.Execute()
}
