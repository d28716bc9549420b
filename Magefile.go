//go:build mage
// +build mage

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"

	"reels-pipeline/config"
	"reels-pipeline/ledger"
)

// Build builds the reels binary
func Build() error {
	mg.Deps(Vet, Test)
	fmt.Println("Building bin/reels...")
	return sh.RunV("go", "build", "-o", "bin/reels", "-ldflags", "-s -w", ".")
}

// Test runs all Go tests with the race detector
func Test() error {
	fmt.Println("Running Go tests...")
	return sh.RunV("go", "test", "-race", "-coverprofile=coverage.out", "./...")
}

// Vet runs go vet
func Vet() error {
	return sh.RunV("go", "vet", "./...")
}

// Lint runs golangci-lint when installed
func Lint() error {
	if _, err := sh.Output("golangci-lint", "version"); err != nil {
		fmt.Println("golangci-lint not installed, running go vet only")
		return Vet()
	}
	return sh.RunV("golangci-lint", "run", "./...")
}

// Doctor checks ffmpeg and API keys
func Doctor() error {
	return sh.RunV("go", "run", ".", "doctor")
}

// Runs prints the most recent runs from the ledger
func Runs() error {
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return err
	}
	if _, err := os.Stat(cfg.Paths.Ledger); os.IsNotExist(err) {
		fmt.Println("No runs recorded yet")
		return nil
	}
	l, err := ledger.Open(cfg.Paths.Ledger)
	if err != nil {
		return err
	}
	defer l.Close()

	runs, err := l.Recent(context.Background(), 20)
	if err != nil {
		return err
	}
	for _, r := range runs {
		review := ""
		if r.NeedsReview {
			review = " (needs review)"
		}
		fmt.Printf("%s  %-8s  %-24s  %-10s  %d attempts  %.1f%s\n",
			r.FinishedAt.Format("2006-01-02 15:04"), r.RunID, r.ScriptID, r.Disposition, r.Attempts, r.Score, review)
		if r.YouTubeURL != "" {
			fmt.Printf("    %s\n", r.YouTubeURL)
		}
	}
	return nil
}

// Clean removes build output and intermediate work directories
func Clean() error {
	for _, p := range []string{"bin", "coverage.out"} {
		if err := sh.Rm(p); err != nil {
			return err
		}
	}
	return nil
}
