// Command generate-jwt mints a bearer token for local API testing.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ModoriLabs/zk-escrow/internal/middleware"
)

func main() {
	address := flag.String("address", "", "wallet address for a user token")
	admin := flag.Bool("admin", false, "mint an admin token instead")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	secret := os.Getenv("ESCROW_JWT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "ESCROW_JWT_SECRET is required")
		os.Exit(1)
	}

	tokens := middleware.NewTokenManager(secret, *ttl)

	var (
		token string
		err   error
	)
	if *admin {
		token, err = tokens.Issue("", middleware.RoleAdmin)
	} else {
		if *address == "" {
			fmt.Fprintln(os.Stderr, "-address is required for user tokens")
			os.Exit(1)
		}
		token, err = tokens.Issue(*address, middleware.RoleUser)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
