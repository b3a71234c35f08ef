package main

import "github.com/chunlea/computer-use-with-nanokvm/cmd"

func main() {
	cmd.Execute()
}
