package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	cfgPkg "github.com/xhad/ragsync/pkg/config"
	"github.com/xhad/ragsync/pkg/drive"
	"github.com/xhad/ragsync/pkg/llm"
	"github.com/xhad/ragsync/pkg/store"
	"github.com/xhad/ragsync/pkg/syncer"
	"github.com/xhad/ragsync/server"
)

type Config struct {
	DBUrl              string
	FolderID           string
	ServiceAccountPath string
	Model              string
	BaseURL            string
	TableName          string
	VectorDim          int
	SearchLimit        int
	ChunkSize          int
	ChunkOverlap       int
	PollInterval       int
	RateLimit          float64
	PageSize           int
	Port               int
	Serve              bool
	Force              bool
	Watch              bool
}

func main() {
	config := parseFlags()

	if err := run(config); err != nil {
		log.Fatal(err)
	}
}

func parseFlags() Config {
	var config Config
	var configPath string

	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.StringVar(&config.DBUrl, "db-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	flag.StringVar(&config.FolderID, "folder-id", os.Getenv("GOOGLE_DRIVE_FOLDER_ID"), "Google Drive folder to watch")
	flag.StringVar(&config.ServiceAccountPath, "service-account", os.Getenv("GOOGLE_SERVICE_ACCOUNT_PATH"), "Path to service account JSON")
	flag.StringVar(&config.Model, "model", "text-embedding-3-small", "Embedding model to use")
	flag.StringVar(&config.BaseURL, "embedding-url", os.Getenv("EMBEDDING_BASE_URL"), "Embedding API base URL")
	flag.StringVar(&config.TableName, "table", "documents", "PostgreSQL table name")
	flag.IntVar(&config.VectorDim, "vector-dim", 1536, "Vector dimension")
	flag.IntVar(&config.SearchLimit, "search-limit", 5, "Number of search results to return")
	flag.IntVar(&config.ChunkSize, "chunk-size", 400, "Size of text chunks")
	flag.IntVar(&config.ChunkOverlap, "chunk-overlap", 0, "Overlap between chunks")
	flag.IntVar(&config.PollInterval, "interval", 300, "Seconds between change checks")
	flag.Float64Var(&config.RateLimit, "rate-limit", 8.0, "Drive API requests per second")
	flag.IntVar(&config.PageSize, "page-size", 100, "Drive listing page size")
	flag.IntVar(&config.Port, "port", 8080, "HTTP server port")
	flag.BoolVar(&config.Serve, "serve", false, "Run the HTTP server instead of the search prompt")
	flag.BoolVar(&config.Force, "force", false, "Reprocess files already in storage")
	flag.BoolVar(&config.Watch, "watch", true, "Keep polling for changes after the bulk sync")
	flag.Parse()

	// Load config file if specified
	if cfg, err := cfgPkg.LoadConfig(configPath); err == nil {
		if errs := cfg.Validate(); len(errs) > 0 {
			for _, e := range errs {
				log.Printf("config: %v", e)
			}
			log.Fatal("invalid configuration")
		}

		// Flags take precedence over the file for the connection settings
		if config.DBUrl == "" {
			config.DBUrl = cfg.Database.URL
		}
		if config.FolderID == "" {
			config.FolderID = cfg.Drive.FolderID
		}
		if config.ServiceAccountPath == "" {
			config.ServiceAccountPath = cfg.Drive.ServiceAccountPath
		}
		if config.BaseURL == "" {
			config.BaseURL = cfg.Embedding.BaseURL
		}

		config.Model = cfg.Embedding.Model
		config.TableName = cfg.Database.TableName
		config.VectorDim = cfg.Database.VectorDim
		config.SearchLimit = cfg.Database.SearchLimit
		config.ChunkSize = cfg.Processor.ChunkSize
		config.ChunkOverlap = cfg.Processor.ChunkOverlap
		config.PollInterval = cfg.Drive.PollInterval
		config.RateLimit = cfg.Drive.RateLimit
		config.PageSize = cfg.Drive.PageSize
		config.Port = cfg.Server.Port
	}

	return config
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("files"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func run(config Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize components
	source, err := drive.NewWithConfig(ctx, drive.ClientConfig{
		ServiceAccountPath: config.ServiceAccountPath,
		PageSize:           int64(config.PageSize),
		RateLimit:          config.RateLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize drive client: %v", err)
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:   config.Model,
		BaseURL: config.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	vectorStore, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
		ConnString:  config.DBUrl,
		TableName:   config.TableName,
		VectorDim:   config.VectorDim,
		SearchLimit: config.SearchLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	sc := syncer.NewWithConfig(syncer.SyncerConfig{
		FolderID:     config.FolderID,
		PollInterval: time.Duration(config.PollInterval) * time.Second,
		ChunkSize:    config.ChunkSize,
		ChunkOverlap: config.ChunkOverlap,
		Force:        config.Force,
	}, source, vectorStore, embedder)

	if config.Serve {
		return serveHTTP(ctx, config, sc, vectorStore, embedder)
	}

	// Bulk sync with progress display; the total is unknown until the
	// listing completes, so the bar ticks per handled file.
	color.Blue("\nSyncing Drive folder %s\n", config.FolderID)

	syncBar := getProgressBar(-1, "📁 Syncing documents...")
	sc.SetOnEvent(func(event, message string) {
		syncBar.Describe(color.BlueString("📁 Syncing documents... (%s %s)", event, message))
		syncBar.Add(1)
	})

	stats, err := sc.InitialSync(ctx)
	sc.SetOnEvent(nil)
	syncBar.Finish()
	fmt.Print("\r")
	if err != nil {
		return fmt.Errorf("failed to sync folder: %v", err)
	}

	color.Green("\n✓ Sync complete: %d processed, %d skipped, %d cleaned, %d errors\n",
		stats.Processed, stats.Skipped, stats.Cleaned, stats.Errors)

	if config.Watch {
		if err := sc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %v", err)
		}
		defer sc.Stop()
		color.Cyan("Watching for changes every %ds\n", config.PollInterval)
	}

	return searchLoop(ctx, config, vectorStore, embedder)
}

func serveHTTP(ctx context.Context, config Config, sc *syncer.Syncer, vectorStore *store.VectorStore, embedder *llm.Embedder) error {
	srv := server.NewWithConfig(server.Config{
		Port:        config.Port,
		SearchLimit: config.SearchLimit,
	}, sc, vectorStore, embedder)

	// Sync events reach WebSocket clients through the broadcast hub.
	sc.SetOnEvent(srv.Broadcast)

	if err := sc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %v", err)
	}
	defer sc.Stop()

	color.Cyan("Serving on port %d\n", config.Port)
	return srv.ListenAndServe(ctx)
}

func searchLoop(ctx context.Context, config Config, vectorStore *store.VectorStore, embedder *llm.Embedder) error {
	// Interactive search loop with colored output
	color.Cyan("\nSearch your documents (type 'exit' to quit)")

	scanner := bufio.NewScanner(os.Stdin)
	userPrompt := color.New(color.FgGreen).PrintfFunc()

	for {
		userPrompt("\nQuery: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if strings.ToLower(query) == "exit" {
			break
		}
		if query == "" {
			continue
		}

		embeddings, err := embedder.CreateEmbedding(ctx, []string{query})
		if err != nil {
			color.Red("Error creating query embedding: %v\n", err)
			continue
		}
		if len(embeddings) == 0 {
			color.Red("Query produced no embedding\n")
			continue
		}

		querySpinner := getSpinner("🔍 Searching documents...")

		results, err := vectorStore.SearchSimilar(ctx, embeddings[0], config.SearchLimit, nil)
		querySpinner.Finish()
		fmt.Print("\r")

		if err != nil {
			color.Red("Error searching documents: %v\n", err)
			continue
		}

		if len(results) == 0 {
			color.Yellow("No matches found\n")
			continue
		}

		for i, result := range results {
			title, _ := result.Metadata["file_title"].(string)
			color.Cyan("\n[%d] %s (similarity %.3f)\n", i+1, title, result.Similarity)
			fmt.Println(truncate(result.Content, 300))
		}
	}

	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
