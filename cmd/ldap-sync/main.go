// Package main is the entry point for the ldap-sync binary.
package main

import (
	"os"

	"github.com/isometry/ldap-sync/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
