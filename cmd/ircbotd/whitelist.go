package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oriys/ircbotd/internal/store"
)

// whitelistCmd groups the WHITELIST table maintenance commands. Import
// mirrors the original source's standalone misc/whitelist.c utility,
// which seeded the same table from a plain text symbol list.
func whitelistCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage an instance's plugin symbol WHITELIST table",
	}
	root.AddCommand(whitelistImportCmd())
	return root
}

func whitelistImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <database> <symbols-file>",
		Short: "Seed WHITELIST(NAME, LIBC) from a plain symbol list file",
		Long: "Each line of the symbols file is either a bare symbol name (treated as\n" +
			"non-libc) or \"name libc\" where libc is 0 or 1, matching the original\n" +
			"misc/whitelist.c import format.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return importWhitelist(args[0], args[1])
		},
	}
}

func importWhitelist(dbPath, symbolsPath string) error {
	db, err := store.Create(dbPath)
	if err != nil {
		return fmt.Errorf("whitelist: open %s: %w", dbPath, err)
	}
	defer db.Close()

	f, err := os.Open(symbolsPath)
	if err != nil {
		return fmt.Errorf("whitelist: open %s: %w", symbolsPath, err)
	}
	defer f.Close()

	var imported int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		name := fields[0]
		libc := 0
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				return fmt.Errorf("whitelist: %s: bad libc flag %q", name, fields[1])
			}
			libc = n
		}

		if _, err := db.Exec(
			`INSERT INTO WHITELIST(NAME, LIBC) VALUES(?, ?) ON CONFLICT(NAME) DO UPDATE SET LIBC = excluded.LIBC`,
			"si", name, libc,
		); err != nil {
			return fmt.Errorf("whitelist: insert %s: %w", name, err)
		}
		imported++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("whitelist: read %s: %w", symbolsPath, err)
	}

	fmt.Printf("imported %d symbols into %s\n", imported, dbPath)
	return nil
}
