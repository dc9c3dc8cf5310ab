// Package main provides the entry point for the dbtsync CLI.
package main

import (
	"fmt"
	"os"

	"github.com/dbt-portal/dbtsync/cmd/dbtsync/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
