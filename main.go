package main

import "github.com/ansvik/stash/cmd"

func main() {
	cmd.Execute()
}
