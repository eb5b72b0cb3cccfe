package main

import "github.com/putto11262002/chatline/internal/cli"

func main() {
	cli.Execute()
}
