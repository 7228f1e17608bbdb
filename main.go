package main

import "github.com/chriserin/ftplan/cmd"

func main() {
	cmd.Execute()
}
