package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"whale-spot-bot/internal/auth"
)

func main() {
	fmt.Println("========================================")
	fmt.Println(" Dashboard Access Administration Tool")
	fmt.Println("========================================")
	fmt.Println()

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Println("\nOptions:")
		fmt.Println("  1. Hash a principal password")
		fmt.Println("  2. Verify a password against a hash")
		fmt.Println("  3. Generate a JWT secret")
		fmt.Println("  4. Issue a test access token")
		fmt.Println("  5. Exit")
		fmt.Print("\nSelect option: ")

		input, _ := reader.ReadString('\n')
		input = strings.TrimSpace(input)

		switch input {
		case "1":
			hashPassword(reader)
		case "2":
			verifyPassword(reader)
		case "3":
			generateSecret()
		case "4":
			issueToken(reader)
		case "5":
			fmt.Println("Goodbye!")
			os.Exit(0)
		default:
			fmt.Println("Invalid option")
		}
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func hashPassword(reader *bufio.Reader) {
	fmt.Println("\n--- Hash Password ---")
	password := prompt(reader, "Password: ")

	if err := auth.ValidatePasswordStrength(password); err != nil {
		fmt.Printf("Rejected: %v\n", err)
		return
	}

	cost := auth.DefaultBcryptCost
	if v := prompt(reader, fmt.Sprintf("Bcrypt cost (default %d): ", cost)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fmt.Println("Invalid cost, using default")
		} else {
			cost = n
		}
	}

	hash, err := auth.HashPassword(password, cost)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Hash: %s\n", hash)
	fmt.Println("========================================")
	fmt.Println("Put this in auth.principals[].password_hash")
}

func verifyPassword(reader *bufio.Reader) {
	fmt.Println("\n--- Verify Password ---")
	hash := prompt(reader, "Hash: ")
	password := prompt(reader, "Password: ")

	if auth.VerifyPassword(password, hash) {
		fmt.Println("Match")
	} else {
		fmt.Println("No match")
	}
}

func generateSecret() {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Println("\n========================================")
	fmt.Printf("  JWT secret: %s\n", base64.RawURLEncoding.EncodeToString(buf))
	fmt.Println("========================================")
	fmt.Println("Set it as AUTH_JWT_SECRET or auth.jwt_secret")
}

func issueToken(reader *bufio.Reader) {
	fmt.Println("\n--- Issue Test Token ---")
	secret := prompt(reader, "JWT secret: ")
	if secret == "" {
		fmt.Println("Secret is required")
		return
	}
	username := prompt(reader, "Username: ")

	var telegramID int64
	if v := prompt(reader, "Telegram chat ID (optional): "); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			fmt.Println("Invalid chat ID, ignoring")
		} else {
			telegramID = id
		}
	}

	manager := auth.NewJWTManager(secret, time.Hour)
	token, expires, err := manager.GenerateAccessToken(auth.PrincipalClaims{Username: username, TelegramID: telegramID})
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\n========================================")
	fmt.Printf("  Token:   %s\n", token)
	fmt.Printf("  Expires: %s\n", expires.Format(time.RFC3339))
	fmt.Println("========================================")
}
