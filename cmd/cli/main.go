// reqtrace - request timeline reconstruction for distributed logs.
//
// reqtrace groups the log events of each request across services and hosts,
// builds per-service timelines and flags requests that spend most of their
// life between services.
package main

import (
	"os"

	"github.com/ccollicutt/reqtrace/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
