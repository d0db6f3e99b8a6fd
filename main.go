package main

import "github.com/klocfix/klocfix/cmd"

func main() {
	cmd.Execute()
}
