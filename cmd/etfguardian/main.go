package main

import (
	"etf-guardian/internal/cli"
)

func main() {
	cli.Execute()
}
