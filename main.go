package main

import "p2p-market-watch/internal/cli"

func main() {
	cli.Execute()
}
