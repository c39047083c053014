package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/dvloznov/expense-review-bot/internal/app"
	"github.com/dvloznov/expense-review-bot/internal/auth"
	"github.com/dvloznov/expense-review-bot/internal/config"
	"github.com/dvloznov/expense-review-bot/internal/domain"
	"github.com/dvloznov/expense-review-bot/internal/ingest"
	"github.com/dvloznov/expense-review-bot/internal/logger"
	"github.com/dvloznov/expense-review-bot/internal/mail"
)

const dateLayout = "2006-01-02"

func main() {
	cliApp := &cli.App{
		Name:  "expense-cli",
		Usage: "Operate the expense review bot",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			pollCommand(),
			cursorCommand(),
			authorizeCommand(),
			importMailCommand(),
			migrateCommand(),
			reportCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func load(c *cli.Context) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, logger.NewWithLevel(cfg.Log.Level), nil
}

func pollCommand() *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Run a poll cycle on the running bot, or preview one with --dry-run",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Read the new rows without notifying anyone or moving the cursor",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "Base URL of the bot's operator API",
				Value: "http://localhost:8080",
			},
		},
		Action: runPoll,
	}
}

func runPoll(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}

	var res ingest.Result
	if c.Bool("dry-run") {
		res, err = previewLocally(c.Context, cfg, log)
	} else {
		res, err = pollRemote(c.Context, c.String("api-url"), cfg.API.Token)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Cursor: %d -> %d\n", res.Previous, res.Cursor)
	for _, tx := range res.Transactions {
		printTransaction(tx)
	}
	if !c.Bool("dry-run") {
		fmt.Printf("Delivered: %d, failed: %d\n", res.Delivered, res.Failed)
	}
	return nil
}

func previewLocally(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ingest.Result, error) {
	store, closer, err := app.OpenCursor(ctx, cfg, false)
	if err != nil {
		return ingest.Result{}, err
	}
	defer closer.Close()

	client, err := app.OpenSheets(ctx, cfg, log)
	if err != nil {
		return ingest.Result{}, err
	}
	return app.NewPreviewPoller(client, cfg, store, log).Preview(ctx)
}

func pollRemote(ctx context.Context, baseURL, token string) (ingest.Result, error) {
	var res ingest.Result

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/api/poll", nil)
	if err != nil {
		return res, fmt.Errorf("pollRemote: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return res, fmt.Errorf("pollRemote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return res, fmt.Errorf("pollRemote: status %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("pollRemote: decoding response: %w", err)
	}
	return res, nil
}

func printTransaction(tx domain.Transaction) {
	fmt.Printf("  %s  %s %s  %-30s %12s  %s/%s\n",
		tx.TransactionID, tx.Date, tx.Time, tx.Recipient,
		domain.FormatAmount(tx.Amount), tx.Bank, tx.Mode)
}

func cursorCommand() *cli.Command {
	mailFlag := &cli.BoolFlag{
		Name:  "mail",
		Usage: "Use the mail importer cursor instead of the sheet poller cursor",
	}
	return &cli.Command{
		Name:  "cursor",
		Usage: "Inspect or move the processed-rows cursor",
		Subcommands: []*cli.Command{
			{
				Name:   "get",
				Usage:  "Print the cursor",
				Flags:  []cli.Flag{mailFlag},
				Action: runCursorGet,
			},
			{
				Name:      "set",
				Usage:     "Set the cursor; it may only move forward",
				ArgsUsage: "<index>",
				Flags:     []cli.Flag{mailFlag},
				Action:    runCursorSet,
			},
		},
	}
}

func runCursorGet(c *cli.Context) error {
	cfg, _, err := load(c)
	if err != nil {
		return err
	}
	store, closer, err := app.OpenCursor(c.Context, cfg, c.Bool("mail"))
	if err != nil {
		return err
	}
	defer closer.Close()

	index, err := store.Load(c.Context)
	if err != nil {
		return err
	}
	fmt.Println(index)
	return nil
}

func runCursorSet(c *cli.Context) error {
	index, err := strconv.Atoi(c.Args().First())
	if err != nil || index < 0 {
		return fmt.Errorf("cursor set: expected a non-negative index, got %q", c.Args().First())
	}

	cfg, _, err := load(c)
	if err != nil {
		return err
	}
	store, closer, err := app.OpenCursor(c.Context, cfg, c.Bool("mail"))
	if err != nil {
		return err
	}
	defer closer.Close()

	if err := store.Save(c.Context, index); err != nil {
		return err
	}
	fmt.Printf("Cursor set to %d\n", index)
	return nil
}

func authorizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "authorize",
		Usage: "Manage the users allowed to talk to the bot",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Authorize a Telegram user ID",
				ArgsUsage: "<user-id>",
				Action:    runAuthorizeAdd,
			},
			{
				Name:   "list",
				Usage:  "List authorized user IDs",
				Action: runAuthorizeList,
			},
		},
	}
}

func openUsers(c *cli.Context) (*auth.Store, error) {
	cfg, _, err := load(c)
	if err != nil {
		return nil, err
	}
	return auth.Open(cfg.Auth.UsersFile, cfg.Auth.UserIDs)
}

func runAuthorizeAdd(c *cli.Context) error {
	userID, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil || userID <= 0 {
		return fmt.Errorf("authorize add: expected a numeric user ID, got %q", c.Args().First())
	}

	users, err := openUsers(c)
	if err != nil {
		return err
	}
	added, err := users.Add(userID)
	if err != nil {
		return err
	}
	if added {
		fmt.Printf("User %d authorized\n", userID)
	} else {
		fmt.Printf("User %d was already authorized\n", userID)
	}
	return nil
}

func runAuthorizeList(c *cli.Context) error {
	users, err := openUsers(c)
	if err != nil {
		return err
	}
	for _, id := range users.List() {
		fmt.Println(id)
	}
	return nil
}

func importMailCommand() *cli.Command {
	return &cli.Command{
		Name:  "import-mail",
		Usage: "Append new bank alert emails to the raw transactions tab",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "authorize",
				Usage: "Run the Gmail OAuth consent flow and store the token first",
			},
		},
		Action: runImportMail,
	}
}

func runImportMail(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}
	if cfg.Sheets.SpreadsheetID == "" {
		return fmt.Errorf("import-mail: sheets.spreadsheet_id is required")
	}

	if c.Bool("authorize") {
		if err := mail.Authorize(c.Context, cfg.Gmail.CredentialsFile, cfg.Gmail.TokenFile, os.Stdin, os.Stdout); err != nil {
			return err
		}
	}

	store, closer, err := app.OpenCursor(c.Context, cfg, true)
	if err != nil {
		return err
	}
	defer closer.Close()

	client, err := app.OpenSheets(c.Context, cfg, log)
	if err != nil {
		return err
	}
	importer, err := app.NewMailImporter(c.Context, cfg, client, store, log)
	if err != nil {
		return err
	}

	res, err := importer.Run(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d, duplicates %d, invalid %d, labelled %d (cursor %d -> %d)\n",
		res.Imported, res.Duplicates, res.Invalid, res.Labelled, res.Previous, res.Cursor)
	return nil
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Create the tables of the enabled Postgres and BigQuery sinks",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	cfg, log, err := load(c)
	if err != nil {
		return err
	}

	ran := false
	if cfg.Sinks.Postgres.Enabled {
		sink, pool, err := app.OpenPostgres(c.Context, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := sink.Migrate(c.Context); err != nil {
			return err
		}
		log.Info().Str("table", cfg.Sinks.Postgres.Table).Msg("Postgres table ready")
		ran = true
	}

	if cfg.Sinks.BigQuery.Enabled {
		sink, err := app.OpenBigQuery(c.Context, cfg)
		if err != nil {
			return err
		}
		defer sink.Close()
		created, err := sink.EnsureTable(c.Context)
		if err != nil {
			return err
		}
		log.Info().
			Str("table", cfg.Sinks.BigQuery.Dataset+"."+cfg.Sinks.BigQuery.Table).
			Bool("created", created).
			Msg("BigQuery table ready")
		ran = true
	}

	if !ran {
		fmt.Println("No Postgres or BigQuery sink is enabled")
	}
	return nil
}

func reportCommand() *cli.Command {
	return &cli.Command{
		Name:  "report",
		Usage: "Count reviewed transactions per category from BigQuery",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "from",
				Usage: "First transaction date, YYYY-MM-DD (default: 30 days ago)",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Last transaction date, YYYY-MM-DD (default: today)",
			},
		},
		Action: runReport,
	}
}

func runReport(c *cli.Context) error {
	to := time.Now()
	from := to.AddDate(0, 0, -30)
	var err error
	if s := c.String("from"); s != "" {
		if from, err = time.Parse(dateLayout, s); err != nil {
			return fmt.Errorf("report: invalid --from: %w", err)
		}
	}
	if s := c.String("to"); s != "" {
		if to, err = time.Parse(dateLayout, s); err != nil {
			return fmt.Errorf("report: invalid --to: %w", err)
		}
	}

	cfg, _, err := load(c)
	if err != nil {
		return err
	}
	if !cfg.Sinks.BigQuery.Enabled {
		return fmt.Errorf("report: sinks.bigquery is not enabled")
	}
	sink, err := app.OpenBigQuery(c.Context, cfg)
	if err != nil {
		return err
	}
	defer sink.Close()

	counts, err := sink.CountByCategory(c.Context, from, to)
	if err != nil {
		return err
	}

	categories := make([]string, 0, len(counts))
	for cat := range counts {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	fmt.Printf("Reviewed transactions %s to %s\n", from.Format(dateLayout), to.Format(dateLayout))
	for _, cat := range categories {
		name := cat
		if name == "" {
			name = "(none)"
		}
		fmt.Printf("  %-24s %d\n", name, counts[cat])
	}
	return nil
}
