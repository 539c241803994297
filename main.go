package main

import "github.com/agentic-research/bidsmeta/cmd"

func main() {
	cmd.Execute()
}
