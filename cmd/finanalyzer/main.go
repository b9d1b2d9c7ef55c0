package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/finanalyzer/internal/apiclient"
	"github.com/TobiSchelling/finanalyzer/internal/chat"
	"github.com/TobiSchelling/finanalyzer/internal/config"
	"github.com/TobiSchelling/finanalyzer/internal/export"
	"github.com/TobiSchelling/finanalyzer/internal/llm"
	"github.com/TobiSchelling/finanalyzer/internal/logger"
	"github.com/TobiSchelling/finanalyzer/internal/pipeline"
	"github.com/TobiSchelling/finanalyzer/internal/proxy"
	"github.com/TobiSchelling/finanalyzer/internal/report"
	"github.com/TobiSchelling/finanalyzer/internal/server"
	"github.com/TobiSchelling/finanalyzer/internal/session"
	"github.com/TobiSchelling/finanalyzer/internal/upload"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "finanalyzer",
	Short:   "AI financial statement analysis",
	Long:    "finanalyzer turns PDF financial statements into structured credit analysis reports using Gemini.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
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

		if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		if verbose {
			logger.SetVerbose()
		}
		if path != "" {
			logger.Log.Debugf("Loaded config from %s", path)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(modelsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("finanalyzer", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/finanalyzer/",
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
		fmt.Println("Set GEMINI_API_KEY in your environment to enable analysis.")
		return nil
	},
}

func newService() *proxy.Service {
	provider := llm.CreateProvider(cfg.Gemini.Model, cfg.Gemini.BaseURL, cfg.APIKey(),
		cfg.Gemini.APIKeyEnv, cfg.Gemini.Timeout, cfg.Gemini.RequestsPerMinute)
	return proxy.NewService(provider, cfg.Gemini.MaxOutputTokens)
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web UI and the analyze API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		svc := newService()
		store := session.NewStore(pipeline.New(svc), chat.NewAssistant(svc), cfg.Session.TTL)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Starting server at http://%s\n", cfg.Addr())
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, cfg, svc, store)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
}

// --- analyze command ---

var (
	serverURL string
	outDir    string
	formats   []string
	questions []string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <pdf>...",
	Short: "Analyze PDF financial statements and write report exports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := upload.FromPaths(args)
		if err != nil {
			return err
		}
		docs, err = upload.Select(docs)
		if err != nil {
			return err
		}

		var completer proxy.Completer
		if serverURL != "" {
			completer = apiclient.New(serverURL, cfg.Gemini.Timeout)
		} else {
			completer = newService()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Analyzing %d document(s)...\n", len(docs))
		result, err := pipeline.New(completer).Run(ctx, docs)
		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(docs), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s (%s)\n", step.Summary, step.Duration.Round(time.Millisecond))
			}
		}
		if err != nil {
			return fmt.Errorf("analysis failed: %w", err)
		}

		if err := writeExports(result.Reports, time.Now()); err != nil {
			return err
		}

		if len(questions) > 0 {
			assistant := chat.NewAssistant(completer)
			for _, q := range questions {
				answer, err := assistant.Ask(ctx, result.Reports, q)
				if err != nil {
					answer = "Error: " + err.Error()
				}
				fmt.Printf("\nQ: %s\nA: %s\n", q, answer)
			}
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringVar(&serverURL, "server", "", "Send requests through a running finanalyzer server instead of calling Gemini directly")
	analyzeCmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory for report exports")
	analyzeCmd.Flags().StringSliceVarP(&formats, "format", "f", []string{"html"}, "Export formats: html, csv")
	analyzeCmd.Flags().StringArrayVarP(&questions, "ask", "q", nil, "Question to ask about the reports (repeatable)")
}

func writeExports(reports []*report.Report, now time.Time) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	fmt.Println()
	for _, rep := range reports {
		for _, format := range formats {
			var (
				data []byte
				err  error
			)
			switch strings.ToLower(strings.TrimSpace(format)) {
			case "html":
				data, err = export.HTML(rep)
			case "csv":
				if !cfg.Features.Premium {
					return fmt.Errorf("csv export is a premium feature")
				}
				data, err = export.CSV(rep, now)
			default:
				return fmt.Errorf("unknown export format: %s", format)
			}
			if err != nil {
				return err
			}

			target := filepath.Join(outDir, export.Filename(rep.CompanyName, strings.ToLower(strings.TrimSpace(format))))
			if err := os.WriteFile(target, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", target, err)
			}
			fmt.Printf("Wrote %s\n", target)
		}
	}
	return nil
}

// --- models command ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List Gemini models available to the configured API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		models, err := newService().ListModels(ctx)
		if err != nil {
			return err
		}

		for _, m := range models {
			marker := " "
			if strings.TrimPrefix(m.Name, "models/") == cfg.Gemini.Model {
				marker = "*"
			}
			fmt.Printf("  %s %s (%s)\n", marker, m.Name, m.DisplayName)
		}
		return nil
	},
}
