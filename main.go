package main

import "github.com/vidfetch/vidfetch/cmd"

func main() {
	cmd.Execute()
}
