package main

import (
	"os"
	_ "time/tzdata" // feeds name IANA zones; hosts may lack a zoneinfo database

	"github.com/pfrederiksen/eventfeeds/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
