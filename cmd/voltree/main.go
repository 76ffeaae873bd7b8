package main

import "github.com/agentic-research/voltree/cmd"

func main() {
	cmd.Execute()
}
