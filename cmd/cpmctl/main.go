// Command cpmctl manages checkout process models in the configured blob
// backend.
//
//	cpmctl import -key <productKey> -file cpm.yaml
//	cpmctl get -key <productKey>
//	cpmctl validate -file cpm.json
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/config"
	"github.com/imrishuroy/go-checkout-orchestrator/internal/cpm"
)

// openBlobs is swapped in tests.
var openBlobs = func() (cpm.BlobStore, func() error, error) {
	return cpm.OpenBlobs(config.Load())
}

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run dispatches a subcommand. Exit codes: 0 ok, 1 invalid model or not
// found, 2 usage or runtime error.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "import":
		return runImportCmd(args[2:], stdout, stderr)
	case "get":
		return runGetCmd(args[2:], stdout, stderr)
	case "validate":
		return runValidateCmd(args[2:], stdout, stderr)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: cpmctl <command> [flags]

Commands:
  import    -key <productKey> -file <cpm.yaml|cpm.json>  store a process model
  get       -key <productKey>                           print the stored model (with default fallback)
  validate  -file <cpm.yaml|cpm.json>                   check a document without storing it`)
}
