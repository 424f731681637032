package main

import "github.com/dsolab/devsim/cmd/devsim/cmd"

func main() {
	cmd.Execute()
}
