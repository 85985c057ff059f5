package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/schoolways/bus-tracker-backend/internal/utils"
	"github.com/schoolways/bus-tracker-backend/pkg/jwt"
)

func main() {
	var (
		uid    string
		email  string
		expiry time.Duration
	)
	flag.StringVar(&uid, "uid", "", "document store uid of the user (users/{uid})")
	flag.StringVar(&email, "email", "", "optional email claim")
	flag.DurationVar(&expiry, "expiry", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()

	fmt.Println("===========================================")
	fmt.Println("SchoolWays local auth token generator")
	fmt.Println("===========================================")
	fmt.Println()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		generated, err := utils.GenerateSecret(32)
		if err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		secret = generated
		fmt.Println("JWT_SECRET is not set. Add this to your .env file:")
		fmt.Println()
		fmt.Printf("AUTH_MODE=local\nJWT_SECRET=%s\n", secret)
		fmt.Println()
	}

	if uid == "" {
		fmt.Println("Pass -uid to issue a bearer token for a profile.")
		return
	}

	token, err := jwt.NewService(secret, expiry).GenerateAccessToken(uid, email)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}

	fmt.Printf("Bearer token for %s (valid %s):\n\n%s\n\n", uid, expiry, token)
	fmt.Println("⚠️  Local tokens are for development only. Production uses Firebase ID tokens.")
	fmt.Println("===========================================")
}
