package main

import "github.com/mkravtsov/wakewatch/cmd/wakewatch-agent/cmd"

func main() {
	cmd.Execute()
}
