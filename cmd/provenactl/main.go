// Copyright 2026 Provenact Labs
//
// provenactl - operational helper for federation operators.
//
//   provenactl keygen
//       Generate a fresh operator identity (private key, public key, payout
//       address) ready to paste into the operators YAML file.
//
//   provenactl committee -offer <id> -root <checkpoint-root> -chain <chain-id> \
//       -operators <file> [-k K] [-m M] [-fee <sats>]
//       Dry-run the deterministic committee lottery for a settlement.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/provenact/operator-node/pkg/committee"
	"github.com/provenact/operator-node/pkg/keys"
	"github.com/provenact/operator-node/pkg/registry"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "keygen":
		runKeygen()
	case "committee":
		runCommittee(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: provenactl <keygen|committee> [flags]")
}

func runKeygen() {
	kp, err := keys.Generate()
	if err != nil {
		fatal("failed to generate key: %v", err)
	}
	addr, err := kp.Address()
	if err != nil {
		fatal("failed to derive address: %v", err)
	}
	out := map[string]string{
		"private_key":    kp.PrivateHex(),
		"public_key":     kp.PublicHex(),
		"payout_address": addr,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(out)
}

func runCommittee(args []string) {
	fs := flag.NewFlagSet("committee", flag.ExitOnError)
	offer := fs.String("offer", "", "offer id")
	root := fs.String("root", "", "latest checkpoint root (hex)")
	chain := fs.String("chain", "bitcoin-mainnet", "chain id")
	operatorsFile := fs.String("operators", "operators.yaml", "operators YAML file")
	k := fs.Int("k", 5, "committee size")
	m := fs.Int("m", 3, "signature quorum")
	fee := fs.Uint64("fee", 0, "total fee sats to distribute")
	fs.Parse(args)

	if *offer == "" || *root == "" {
		fatal("both -offer and -root are required")
	}

	reg, err := registry.LoadFile(*operatorsFile)
	if err != nil {
		fatal("failed to load operators: %v", err)
	}
	active := reg.Active(time.Now().UnixMilli(), 0.80, 7*24*3_600_000)

	sel, err := committee.Select(*offer, *root, *chain, active, *k, *m, *fee)
	if err != nil {
		fatal("selection failed: %v", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(sel)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
