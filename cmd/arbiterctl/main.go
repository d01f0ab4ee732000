// Command arbiterctl is the operator tool: key generation, acceptance
// issuance for tests and break-glass procedures, and offline ledger
// verification.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		printUsage(stderr)
		return 2
	}
	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "issue":
		return runIssue(args[1:], stdout, stderr)
	case "ledger":
		if len(args) >= 2 && args[1] == "verify" {
			return runLedgerVerify(args[2:], stdout, stderr)
		}
		printUsage(stderr)
		return 2
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[0])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: arbiterctl <command> [arguments]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  keygen          Generate an Ed25519 authority keypair")
	fmt.Fprintln(w, "  issue           Issue a signed acceptance for a payload")
	fmt.Fprintln(w, "  ledger verify   Verify a ledger export file end to end")
}
