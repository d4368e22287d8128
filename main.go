package main

import "github.com/agentic-research/facet/cmd"

func main() {
	cmd.Execute()
}
