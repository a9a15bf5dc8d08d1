package main

import "github.com/sourceplane/msrun/cmd"

func main() {
	cmd.Execute()
}
