package main

import "rebase-keeper/internal/cli"

func main() {
	cli.Execute()
}
