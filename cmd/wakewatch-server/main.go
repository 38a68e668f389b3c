package main

import "github.com/mkravtsov/wakewatch/cmd/wakewatch-server/cmd"

func main() {
	cmd.Execute()
}
