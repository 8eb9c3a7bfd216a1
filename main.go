package main

import "github.com/pairpad/pairpad/cmd"

func main() {
	cmd.Execute()
}
