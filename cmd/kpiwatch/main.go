package main

import "kpi-alerts/internal/cli"

func main() {
	cli.Execute()
}
