package main

import (
	"crypto-price-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
