package main

import "ch-ferry/cmd"

func main() {
	cmd.Execute()
}
