// Command pinhash prints the stored form of a PIN, for seeding app_users rows
// by hand. The salt must match the PIN_SALT of the API that will verify it.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"medcabinet.org/internal/auth"
)

func main() {
	log.SetFlags(0)
	var (
		salt   = flag.String("salt", os.Getenv("PIN_SALT"), "server PIN salt")
		cost   = flag.Int("cost", 0, "bcrypt cost (0 = default)")
		legacy = flag.Bool("legacy", false, "print the unkeyed sha256 digest instead")
		check  = flag.String("check", "", "verify the PIN against this stored hash")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: pinhash [-salt S] [-cost N] [-legacy] [-check HASH] <pin>")
	}
	pin := flag.Arg(0)
	if err := auth.ValidatePIN(pin); err != nil {
		log.Fatalf("pinhash: %v", err)
	}

	hasher, err := auth.NewPINHasher(*salt, *cost)
	if err != nil {
		log.Fatalf("pinhash: %v", err)
	}

	switch {
	case *check != "":
		if !hasher.Verify(*check, pin) {
			fmt.Println("mismatch")
			os.Exit(1)
		}
		fmt.Println("match")
	case *legacy:
		fmt.Println(auth.LegacyHash(pin, *salt))
	default:
		out, err := hasher.Hash(pin)
		if err != nil {
			log.Fatalf("pinhash: %v", err)
		}
		fmt.Println(out)
	}
}
