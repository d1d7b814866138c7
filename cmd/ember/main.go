package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"ember/internal/client"
)

func main() {
	server := flag.String("server", envOr("EMBER_SERVER", "http://localhost:8080"), "ember server base URL")
	password := flag.String("password", "", "optional download password")
	expiresIn := flag.Duration("expires-in", 0, "optional expiry duration, e.g. 30m (server default: 10m)")
	maxDownloads := flag.Int("max-downloads", 0, "optional download ceiling (server default: 1)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ember [flags] <files...>\n\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	paths, err := client.CollectFiles(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	opts := client.Options{
		Password:     *password,
		MaxDownloads: *maxDownloads,
	}
	if *expiresIn > 0 {
		opts.ExpiresAt = time.Now().Add(*expiresIn)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := client.Upload(ctx, *server, paths, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Uploaded %s (%d bytes)\n\n", result.FileName, result.Size)
	fmt.Printf("Download:  %s\n", result.PublicURL)
	fmt.Printf("Analytics: %s\n", result.AnalyticURL)
	fmt.Printf("\nExpires %s, up to %d download(s).\n",
		result.ExpiresAt.Local().Format(time.RFC1123), result.MaxDownloads)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
