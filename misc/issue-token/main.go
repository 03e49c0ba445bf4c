package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"weddingpay/internal/middleware"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	// Check if a user ID was provided as a command-line argument.
	if flag.NArg() < 1 {
		log.Fatal("Usage: go run main.go [-ttl 24h] <user-id>")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET must be set")
	}

	now := time.Now()
	token, err := middleware.IssueToken(secret, flag.Arg(0), jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(*ttl)),
	})
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	// Print the token so it can be pasted into an Authorization header.
	fmt.Println(token)
}
