package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/arbiter-systems/arbiter/pkg/ledger"
)

// runLedgerVerify re-verifies a ledger export (or the live JSONL file)
// offline: every entry hash and every chain link, from genesis.
func runLedgerVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ledger verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("file", "", "ledger JSONL file to verify (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(stderr, "ledger verify: -file is required")
		return 2
	}

	f, err := os.Open(*path)
	if err != nil {
		fmt.Fprintf(stderr, "ledger verify: %v\n", err)
		return 1
	}
	defer func() { _ = f.Close() }()

	var entries []ledger.Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e ledger.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			fmt.Fprintf(stderr, "ledger verify: corrupt entry after sequence %d: %v\n", len(entries), err)
			return 1
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		fmt.Fprintf(stderr, "ledger verify: %v\n", err)
		return 1
	}

	if err := ledger.VerifyChain(entries); err != nil {
		fmt.Fprintf(stderr, "INVALID: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "OK: %d entries, chain intact\n", len(entries))
	return 0
}
