package main

import "github.com/ppiankov/lockwatch/internal/cli"

func main() {
	cli.Execute()
}
