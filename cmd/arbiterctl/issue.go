package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/arbiter-systems/arbiter/pkg/issuer"
)

func runIssue(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(stderr)
	keyPath := fs.String("key", "", "path to a keypair file from 'arbiterctl keygen' (required)")
	issuerName := fs.String("issuer", "", "issuing principal (required)")
	actorID := fs.String("actor", "", "actor the acceptance is bound to (required)")
	intentRef := fs.String("intent", "", "action name the acceptance is bound to (required)")
	payloadPath := fs.String("payload", "", "path to the execution payload JSON, '-' for stdin (required)")
	ttl := fs.Duration("ttl", 5*time.Minute, "acceptance validity window")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *keyPath == "" || *issuerName == "" || *actorID == "" || *intentRef == "" || *payloadPath == "" {
		fmt.Fprintln(stderr, "issue: -key, -issuer, -actor, -intent, and -payload are required")
		return 2
	}

	kf, priv, err := loadKeyFile(*keyPath)
	if err != nil {
		fmt.Fprintf(stderr, "issue: %v\n", err)
		return 1
	}

	var payload []byte
	if *payloadPath == "-" {
		payload, err = io.ReadAll(os.Stdin)
	} else {
		payload, err = os.ReadFile(*payloadPath)
	}
	if err != nil {
		fmt.Fprintf(stderr, "issue: read payload: %v\n", err)
		return 1
	}

	acc, err := issuer.NewEd25519Issuer(priv).Issue(issuer.Request{
		Issuer:         *issuerName,
		ActorID:        *actorID,
		IntentRef:      *intentRef,
		AuthorityKeyID: kf.KeyID,
		TTL:            *ttl,
	}, payload)
	if err != nil {
		fmt.Fprintf(stderr, "issue: %v\n", err)
		return 1
	}

	doc, err := json.MarshalIndent(acc, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "issue: %v\n", err)
		return 1
	}
	_, _ = stdout.Write(append(doc, '\n'))
	return 0
}
