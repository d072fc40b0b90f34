package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"surveycmi/internal/app"
	"surveycmi/internal/auth"
	"surveycmi/internal/console"

	"golang.org/x/crypto/bcrypt"
)

func main() {
	app.LoadDotEnv()
	cfg, args, err := app.ParseClientFlags("surveyadmin", os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if len(args) > 0 && args[0] == "hash-password" {
		os.Exit(hashPassword(args[1:]))
	}

	authn, err := auth.NewAuthenticator(auth.Config{
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
		SessionTTL:   cfg.AdminSessionTTL,
	})
	if err != nil {
		log.Printf("admin login unavailable: %v (set ADMIN_USERNAME and ADMIN_PASSWORD_HASH)", err)
		os.Exit(1)
	}

	ctx := context.Background()
	session, err := login(ctx, authn, cfg.AdminUsername)
	if err != nil {
		log.Printf("login failed: %v", err)
		os.Exit(1)
	}
	defer authn.Logout(session)

	admin := console.NewAdmin(app.NewAPIClient(cfg), authn, os.Stdout)
	if err := admin.Run(ctx, session, args); err != nil {
		if !errors.Is(err, console.ErrUsage) {
			log.Printf("%v", err)
		}
		authn.Logout(session)
		os.Exit(1)
	}
}

// login takes the password from ADMIN_PASSWORD when set, otherwise from the
// first line of stdin.
func login(ctx context.Context, authn *auth.Authenticator, username string) (*auth.Session, error) {
	password := os.Getenv("ADMIN_PASSWORD")
	if password == "" {
		fmt.Fprintf(os.Stderr, "password for %s: ", username)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return nil, fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	return authn.Login(ctx, username, password)
}

func hashPassword(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: surveyadmin hash-password PASSWORD")
		return 2
	}
	hash, err := auth.HashPassword(args[0], bcrypt.DefaultCost)
	if err != nil {
		log.Printf("%v", err)
		return 1
	}
	fmt.Println(hash)
	return 0
}
