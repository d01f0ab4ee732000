package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
)

// keyFile is the on-disk keypair format. The private key never leaves the
// operator's machine; only the public half is registered.
type keyFile struct {
	KeyID      string `json:"keyId"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

func runKeygen(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	out := fs.String("out", "", "write the keypair JSON to this file (default stdout, private key included)")
	keyID := fs.String("key-id", "", "authority key id (default: random UUID)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	id := *keyID
	if id == "" {
		id = uuid.NewString()
	}

	kf := keyFile{
		KeyID:      id,
		PublicKey:  base64.StdEncoding.EncodeToString(pub),
		PrivateKey: base64.StdEncoding.EncodeToString(priv),
	}
	doc, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	doc = append(doc, '\n')

	if *out == "" {
		_, _ = stdout.Write(doc)
		return 0
	}
	if err := os.WriteFile(*out, doc, 0o600); err != nil {
		fmt.Fprintf(stderr, "keygen: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "wrote %s (key id %s)\n", *out, id)
	fmt.Fprintf(stdout, "public key: %s\n", kf.PublicKey)
	return 0
}

func loadKeyFile(path string) (*keyFile, ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var kf keyFile
	if err := json.Unmarshal(raw, &kf); err != nil {
		return nil, nil, fmt.Errorf("parse key file: %w", err)
	}
	priv, err := base64.StdEncoding.DecodeString(kf.PrivateKey)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, nil, fmt.Errorf("key file has no usable private key")
	}
	return &kf, priv, nil
}
