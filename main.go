package main

import "github.com/brensch/lscollection/cmd"

func main() {
	cmd.Execute()
}
