package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caam1406/clawdesk/pkg/config"
	"github.com/caam1406/clawdesk/pkg/storage"
)

var (
	migrateTo      string
	migrateURL     string
	migrateFile    string
	migrateConfirm bool
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Copy accounts and conversation events to another storage backend",
	Long: `Copies every account and conversation event from the configured storage
into the target backend. Events already present in the target are skipped, so
an interrupted migration can be re-run.`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

var exportCmd = &cobra.Command{
	Use:   "export <dir>",
	Short: "Write accounts and conversation events to JSON files",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateTo, "to", "postgres", "target backend: postgres or sqlite")
	migrateCmd.Flags().StringVar(&migrateURL, "database-url", "", "target postgres URL (defaults to storage.database_url)")
	migrateCmd.Flags().StringVar(&migrateFile, "file", "", "target sqlite file (defaults to storage.file_path)")
	migrateCmd.Flags().BoolVarP(&migrateConfirm, "yes", "y", false, "do not ask for confirmation")
	migrateCmd.AddCommand(exportCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	source := cfg.Clone().Storage
	dest := config.StorageConfig{
		Type:        migrateTo,
		DatabaseURL: source.DatabaseURL,
		FilePath:    source.FilePath,
		SSLEnabled:  source.SSLEnabled,
	}
	if migrateURL != "" {
		dest.DatabaseURL = migrateURL
	}
	if migrateFile != "" {
		dest.FilePath = migrateFile
	}

	switch dest.Type {
	case "postgres":
		if dest.DatabaseURL == "" {
			return fmt.Errorf("postgres target needs --database-url or storage.database_url")
		}
	case "sqlite":
		if dest.FilePath == "" {
			return fmt.Errorf("sqlite target needs --file or storage.file_path")
		}
	default:
		return fmt.Errorf("unsupported target %q (use postgres or sqlite)", dest.Type)
	}
	if sameTarget(source, dest) {
		return fmt.Errorf("source and target are the same %s database", dest.Type)
	}

	fmt.Fprintf(out, "Source: %s\n", source.Type)
	fmt.Fprintf(out, "Target: %s\n", dest.Type)

	if !migrateConfirm && !confirm(cmd.InOrStdin(), out, "This copies all data into the target. Continue? (yes/no): ") {
		fmt.Fprintln(out, "Migration cancelled")
		return nil
	}

	src, err := openStorage(ctx, source)
	if err != nil {
		return fmt.Errorf("connect source: %w", err)
	}
	defer src.Close()

	dst, err := openStorage(ctx, dest)
	if err != nil {
		return fmt.Errorf("connect target: %w", err)
	}
	defer dst.Close()

	if err := migrateData(ctx, src, dst, out); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Migration completed.")
	fmt.Fprintf(out, "Set storage.type to %q and restart clawdesk to use the new backend.\n", dest.Type)
	return nil
}

func sameTarget(a, b config.StorageConfig) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type == "sqlite" {
		return filepath.Clean(a.FilePath) == filepath.Clean(b.FilePath)
	}
	return a.DatabaseURL == b.DatabaseURL
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}

func migrateData(ctx context.Context, src, dst storage.Storage, out io.Writer) error {
	fmt.Fprintln(out, "Migrating accounts...")
	accounts, err := src.Accounts().List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	for _, acc := range accounts {
		if err := dst.Accounts().Save(ctx, acc); err != nil {
			return fmt.Errorf("save account %s: %w", acc.WABAID, err)
		}
	}
	fmt.Fprintf(out, "  %d accounts\n", len(accounts))

	fmt.Fprintln(out, "Migrating conversations...")
	ids, err := src.Conversations().ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	total := 0
	for i, id := range ids {
		events, err := src.Conversations().ListEvents(ctx, id, 0)
		if err != nil {
			return fmt.Errorf("list events of %s: %w", id, err)
		}
		for j := range events {
			if err := dst.Conversations().AppendEvent(ctx, &events[j]); err != nil {
				return fmt.Errorf("append event %s: %w", events[j].ID, err)
			}
		}
		total += len(events)
		fmt.Fprintf(out, "  [%d/%d] %s: %d events\n", i+1, len(ids), id, len(events))
	}
	fmt.Fprintf(out, "  %d conversations, %d events\n", len(ids), total)
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	store, err := openStorage(ctx, cfg.Clone().Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	if err := exportData(ctx, store, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(out, "Exported to %s\n", args[0])
	return nil
}

// exportData writes accounts.json plus one file per conversation under
// dir/conversations. Authorization codes are never exported.
func exportData(ctx context.Context, store storage.Storage, dir string) error {
	convDir := filepath.Join(dir, "conversations")
	if err := os.MkdirAll(convDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	accounts, err := store.Accounts().List(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if err := writeJSONFile(filepath.Join(dir, "accounts.json"), accounts); err != nil {
		return err
	}

	ids, err := store.Conversations().ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	for _, id := range ids {
		events, err := store.Conversations().ListEvents(ctx, id, 0)
		if err != nil {
			return fmt.Errorf("list events of %s: %w", id, err)
		}
		if err := writeJSONFile(filepath.Join(convDir, sanitizeFilename(id)+".json"), events); err != nil {
			return err
		}
	}
	return nil
}

func writeJSONFile(filename string, data interface{}) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func sanitizeFilename(s string) string {
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(s)
}
