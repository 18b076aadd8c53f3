package main

import "github.com/user/gosec-mcp/cmd"

func main() {
	cmd.Execute()
}
