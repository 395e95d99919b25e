// Command generate-totp prints the current TOTP code for the admin login,
// or generates a fresh secret with -new.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

func main() {
	newSecret := flag.Bool("new", false, "generate a new TOTP secret")
	flag.Parse()

	if *newSecret {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "zk-escrow",
			AccountName: "admin",
			Period:      30,
			Digits:      otp.DigitsSix,
			Algorithm:   otp.AlgorithmSHA1,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "generate secret: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Secret: %s\nURL:    %s\n", key.Secret(), key.URL())
		fmt.Println("Store the secret in ADMIN_TOTP_SECRET.")
		return
	}

	secret := os.Getenv("ADMIN_TOTP_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_TOTP_SECRET is required (or pass -new)")
		os.Exit(1)
	}

	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate code: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Current TOTP code: %s (valid ~30s)\n", code)
}
