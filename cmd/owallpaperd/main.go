package main

import "github.com/bryanchriswhite/owallpaperd/cmd/owallpaperd/commands"

func main() {
	commands.Execute()
}
