package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/DailyBinder/internal/config"
	"github.com/TobiSchelling/DailyBinder/internal/database"
	"github.com/TobiSchelling/DailyBinder/internal/edition"
	"github.com/TobiSchelling/DailyBinder/internal/logging"
	"github.com/TobiSchelling/DailyBinder/internal/pipeline"
	"github.com/TobiSchelling/DailyBinder/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *logrus.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dailybinder",
	Short:   "Bind a day's newspaper into one document",
	Long:    "DailyBinder fetches a Macao Daily edition index, downloads every article concurrently, and binds them into a single HTML document.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			logger = logging.New("info", verbose)
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger = logging.New(cfg.Logging.Level, verbose)
		if path != "" {
			logger.WithField("path", path).Debug("loaded config")
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(bindCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("dailybinder", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/dailybinder/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to change the site, worker count, or request headers.")
		return nil
	},
}

// --- bind command ---

var (
	bindToday   bool
	bindWorkers int
	bindTimeout int
	bindOutput  string
	bindFormat  string
	bindSave    bool
)

var bindCmd = &cobra.Command{
	Use:   "bind [index-url]",
	Short: "Bind an edition into a single document",
	Long:  "Bind fetches the given edition index page (or today's edition when no URL is given) and writes one self-contained document.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindFormat != "html" && bindFormat != "markdown" {
			return fmt.Errorf("unknown format %q (want html or markdown)", bindFormat)
		}

		indexURL := pipeline.TodayURL(cfg, time.Now())
		if len(args) == 1 && !bindToday {
			indexURL = args[0]
		}

		binder, err := pipeline.New(cfg, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		opts := pipeline.Options{
			Workers: bindWorkers,
			OnProgress: func(p edition.Progress) {
				mark := "ok"
				if p.Record.Failed() {
					mark = "failed"
				}
				fmt.Fprintf(os.Stderr, "[%d/%d] %s %s\n", p.Completed, p.Total, mark, p.Record.URL)
			},
		}
		if bindTimeout > 0 {
			opts.Timeout = time.Duration(bindTimeout) * time.Second
		}

		doc, err := binder.Run(ctx, indexURL, opts)
		if err != nil {
			if errors.Is(err, pipeline.ErrNoLinks) {
				return fmt.Errorf("%s: %w", indexURL, err)
			}
			return err
		}

		out, err := renditions(doc, binder.Renderer(), bindFormat, bindSave, logger)
		if err != nil {
			return err
		}
		content, ext, markdown := out.content, out.ext, out.markdown

		target := bindOutput
		if target == "" {
			target = doc.Filename(cfg.Output.FilenamePrefix, ext)
		}
		if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
			return fmt.Errorf("writing document: %w", err)
		}

		fmt.Printf("\nBound %d articles (%d failed) into %s\n", len(doc.Records), doc.FailedCount(), target)

		if bindSave {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := db.InsertEdition(doc, markdown)
			if err != nil {
				return fmt.Errorf("archiving edition: %w", err)
			}
			fmt.Printf("Archived as %s. Run 'dailybinder serve' to browse it.\n", id)
		}
		return nil
	},
}

func init() {
	bindCmd.Flags().BoolVar(&bindToday, "today", false, "Bind today's edition (Macau time)")
	bindCmd.Flags().IntVarP(&bindWorkers, "workers", "w", 0, "Concurrent article fetches (1-15, default from config)")
	bindCmd.Flags().IntVar(&bindTimeout, "timeout", 0, "Per-request timeout in seconds (default from config)")
	bindCmd.Flags().StringVarP(&bindOutput, "output", "o", "", "Output file (default <prefix>_<date>.<ext>)")
	bindCmd.Flags().StringVar(&bindFormat, "format", "html", "Output format: html or markdown")
	bindCmd.Flags().BoolVar(&bindSave, "save", false, "Also archive the edition in the local database")
}

type markdowner interface {
	Markdown(document string) (string, error)
}

type rendition struct {
	content  string
	ext      string
	markdown string
}

// renditions picks the output file content and, when it is needed, the
// Markdown version for the archive. Markdown is only converted for
// --format markdown or --save; a failed conversion only fails the former.
func renditions(doc *edition.Document, conv markdowner, format string, save bool, log logrus.FieldLogger) (rendition, error) {
	out := rendition{content: doc.HTML, ext: "html"}

	switch {
	case format == "markdown":
		text, err := conv.Markdown(doc.HTML)
		if err != nil {
			return rendition{}, err
		}
		out.content, out.ext, out.markdown = text, "md", text
	case save:
		text, err := conv.Markdown(doc.HTML)
		if err != nil {
			log.WithError(err).Warn("archiving without markdown rendition")
			break
		}
		out.markdown = text
	}
	return out, nil
}

// --- history command ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived editions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		editions, err := db.GetAllEditions()
		if err != nil {
			return err
		}
		if len(editions) == 0 {
			fmt.Println("No editions archived yet. Use 'dailybinder bind --save'.")
			return nil
		}

		for _, e := range editions {
			generated := ""
			if e.GeneratedAt != nil {
				generated = *e.GeneratedAt
			}
			fmt.Printf("%s  %-10s %3d articles %3d failed  %s\n", e.ID, e.DateToken, e.ArticleCount, e.FailedCount, generated)
		}

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}
		fmt.Printf("\n%d editions, %d articles (%d failed) across %d days\n",
			stats.Editions, stats.Articles, stats.FailedArticles, stats.Days)
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		binder, err := pipeline.New(cfg, logger)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		return server.Serve(cfg, db, binder, logger, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

func openDB() (*database.DB, error) {
	return database.Open(filepath.Join(cfg.GetDataDir(), "dailybinder.db"))
}
