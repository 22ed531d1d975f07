package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/matheus3301/wppdesk/internal/daemon"
	"github.com/matheus3301/wppdesk/internal/paths"
	"go.uber.org/fx"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: load .env: %v\n", err)
		os.Exit(1)
	}

	profileFlag := flag.String("profile", "", "profile name (default $WPPDESK_PROFILE or \"main\")")
	httpFlag := flag.String("http", "", "webhook and control listen address (overrides http.addr)")
	flag.Parse()

	profile := resolveProfile(*profileFlag)
	if err := paths.ValidateProfile(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: profile, HTTPAddr: *httpFlag}),
	)

	app.Run()
}

func resolveProfile(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("WPPDESK_PROFILE"); env != "" {
		return env
	}
	return paths.DefaultProfile
}
