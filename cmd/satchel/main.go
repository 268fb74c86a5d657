// ABOUTME: Entry point for the satchel bookmark bot
// ABOUTME: Wires config, store, Matrix client, bookmark service and bridge

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"github.com/satchelbot/satchel/internal/bookmarks"
	"github.com/satchelbot/satchel/internal/bridge"
	"github.com/satchelbot/satchel/internal/config"
	"github.com/satchelbot/satchel/internal/dedupe"
	"github.com/satchelbot/satchel/internal/messenger"
	"github.com/satchelbot/satchel/internal/store"
)

const banner = `
           _       _          _
 ___  __ _| |_ ___| |__   ___| |
/ __|/ _' | __/ __| '_ \ / _ \ |
\__ \ (_| | || (__| | | |  __/ |
|___/\__,_|\__\___|_| |_|\___|_|
`

// Trigger dedupe defaults; sync replay rarely reaches further back than this.
const (
	defaultDedupeTTL  = 5 * time.Minute
	defaultDedupeSize = 4096
)

// getConfigPath returns the path to the satchel config file.
// Priority: SATCHEL_CONFIG env var > XDG_CONFIG_HOME/satchel/satchel.toml > ~/.config/satchel/satchel.toml
func getConfigPath() string {
	if envPath := os.Getenv("SATCHEL_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "satchel.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "satchel", "satchel.toml")
}

func main() {
	// Check for init command
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level)

	// Print startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.UserID)
	green.Print("    ▶ ")
	fmt.Printf("Database:   %s\n", cfg.Database.Path)
	fmt.Println()

	// Setup graceful shutdown context first - all operations should respect it
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	client, err := mautrix.NewClient(cfg.Matrix.Homeserver, id.UserID(cfg.Matrix.UserID), cfg.Matrix.AccessToken)
	if err != nil {
		return fmt.Errorf("creating matrix client: %w", err)
	}

	msgr := messenger.NewMatrix(client, logger)
	hydrateDirectRooms(ctx, client, msgr, logger)

	svc := bookmarks.New(st, msgr, msgr, logger)
	svc.SetResolveLimit(cfg.Bookmark.ResolveParallelism)

	logger.Info("reconciling bookmarks")
	if err := svc.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconciling bookmarks: %w", err)
	}

	dedupeTTL := cfg.Bookmark.DedupeTTL
	if dedupeTTL <= 0 {
		dedupeTTL = defaultDedupeTTL
	}
	seen := dedupe.New(dedupeTTL, defaultDedupeSize)

	b := bridge.New(client, svc, msgr, seen, bridge.Options{
		UserID:        id.UserID(cfg.Matrix.UserID),
		CommandPrefix: cfg.Bookmark.CommandPrefix,
		BookmarkEmoji: cfg.Bookmark.Emoji,
		DeleteEmoji:   cfg.Bookmark.DeleteEmoji,
		CommunityID:   cfg.Bookmark.CommunityID,
		AllowedRooms:  cfg.Bookmark.AllowedRooms,
	}, logger)

	return b.Run(ctx, client)
}

// hydrateDirectRooms seeds the messenger's direct room cache from the
// account's m.direct data so delivered copies from previous runs stay
// reachable for cleanup. Failure is non-fatal; rooms are re-created lazily.
func hydrateDirectRooms(ctx context.Context, client *mautrix.Client, msgr *messenger.MatrixMessenger, logger *slog.Logger) {
	var direct map[id.UserID][]id.RoomID
	if err := client.GetAccountData(ctx, "m.direct", &direct); err != nil {
		logger.Warn("failed to load direct room map", "error", err)
		return
	}

	count := 0
	for userID, rooms := range direct {
		if len(rooms) == 0 {
			continue
		}
		msgr.RegisterDirectRoom(userID.String(), rooms[0])
		count++
	}
	logger.Info("hydrated direct rooms", "count", count)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	green.Print("    ▶ ")
	fmt.Print("Matrix homeserver URL [https://matrix.org]: ")
	homeserver, _ := reader.ReadString('\n')
	homeserver = strings.TrimSpace(homeserver)
	if homeserver == "" {
		homeserver = "https://matrix.org"
	}

	green.Print("    ▶ ")
	fmt.Print("Matrix user ID (@satchel:example.org): ")
	userID, _ := reader.ReadString('\n')
	userID = strings.TrimSpace(userID)

	green.Print("    ▶ ")
	fmt.Print("Matrix access token: ")
	accessToken, _ := reader.ReadString('\n')
	accessToken = strings.TrimSpace(accessToken)

	green.Print("    ▶ ")
	fmt.Print("Database path [./satchel.db]: ")
	dbPath, _ := reader.ReadString('\n')
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		dbPath = "./satchel.db"
	}

	cfgContent := fmt.Sprintf(`# satchel configuration
# Generated by satchel init

[matrix]
homeserver = "%s"
user_id = "%s"
access_token = "%s"

[database]
path = "%s"

[bookmark]
# Listen for triggers only in these rooms (empty = all joined community rooms)
allowed_rooms = []
# Bookmark command, sent as a reply to the message being saved
command_prefix = "!bookmark"
# Reaction emoji that creates a bookmark
emoji = "🔖"
# Reaction emoji on a delivered copy that removes the bookmark
delete_emoji = "🗑️"
# Concurrent owner lookups during the startup reconciliation pass
resolve_parallelism = 4

[logging]
level = "info"
`, homeserver, userID, accessToken, dbPath)

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(cfgContent), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: satchel")
	fmt.Println()

	return nil
}
