package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"

	"github.com/accordly/case-insight/internal/auth"
)

func main() {
	var apiKey string
	switch len(os.Args) {
	case 1:
		apiKey = generateKey()
	case 2:
		apiKey = os.Args[1]
	default:
		fmt.Println("Usage: keygen [api-key]")
		fmt.Println("With no argument, generates a fresh API key.")
		fmt.Println("Prints the SHA-256 hash to put in config.yaml; the key itself is never stored.")
		os.Exit(1)
	}

	keyHash := auth.HashAPIKey(apiKey)

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("auth:\n")
	fmt.Printf("  enabled: true\n")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - key_hash: \"%s\"\n", keyHash)
	fmt.Printf("      description: \"Generated key\"\n")
}

func generateKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("Failed to generate key: %v", err)
	}
	return "ci_" + hex.EncodeToString(buf)
}
