package main

import "revenue-analytics/internal/cli"

func main() {
	cli.Execute()
}
