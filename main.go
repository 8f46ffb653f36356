package main

import "github.com/theirongolddev/claude-usage-tracker/cmd"

func main() {
	cmd.Execute()
}
