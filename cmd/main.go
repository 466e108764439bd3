package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wesm/work-inbox/config"
	"github.com/wesm/work-inbox/internal/api"
	"github.com/wesm/work-inbox/internal/db"
	"github.com/wesm/work-inbox/internal/logging"
	"github.com/wesm/work-inbox/internal/models"
	"github.com/wesm/work-inbox/internal/safego"
	"github.com/wesm/work-inbox/internal/server"
	"github.com/wesm/work-inbox/internal/sync"
	"github.com/wesm/work-inbox/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Define command-line flags
	configPath := flag.String("config", "config.json", "Path to configuration file")
	createConfig := flag.Bool("init", false, "Create a default configuration file if it doesn't exist")
	setToken := flag.String("set-token", "", "Store a token read from stdin in the OS keychain under this account")
	serve := flag.Bool("serve", false, "Run the HTTP API and reload the configuration when it changes")
	fetch := flag.Bool("fetch", false, "Fetch every instance once and print the inbox")
	stream := flag.Bool("stream", false, "Fetch every instance and print progress as stages complete")
	markRead := flag.String("mark-read", "", "Mark a cached item as read (format: instanceID/itemID)")
	workers := flag.Int("workers", 0, "Number of instances fetched at once (1-10), overrides the config file")
	flag.Parse()

	// Create default configuration if requested
	if *createConfig {
		if err := config.CreateDefaultConfig(*configPath); err != nil {
			log.Fatalf("Failed to create default configuration: %v", err)
		}
		log.Printf("Created default configuration at %s", *configPath)
		return
	}

	if *setToken != "" {
		token, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && token == "" {
			log.Fatalf("Failed to read token from stdin: %v", err)
		}
		if err := config.StoreToken(*setToken, strings.TrimSpace(token)); err != nil {
			log.Fatalf("Failed to store token: %v", err)
		}
		log.Printf("Stored token for %s in the keychain", *setToken)
		return
	}

	if !*serve && !*fetch && !*stream && *markRead == "" {
		printUsage()
		return
	}

	// Load configuration
	cfg, err := config.LoadResolved(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		closer, err := logging.InitializeFile(cfg.LogFile, level)
		if err != nil {
			log.Fatalf("Failed to open log file: %v", err)
		}
		defer closer.Close()
	} else {
		logging.Initialize(os.Stderr, level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("Failed to set up tracing: %v", err)
	}
	defer shutdownTracing(context.Background())

	// Initialize the read-state store
	store, err := db.Open(ctx, cfg.Cache.Backend, cfg.Cache.URL)
	if err != nil {
		log.Fatalf("Failed to open %s store: %v", cfg.Cache.Backend, err)
	}
	defer store.Close()

	adapters, err := buildAdapters(cfg)
	if err != nil {
		log.Fatalf("Failed to create clients: %v", err)
	}
	agg := sync.NewAggregator(adapters)
	agg.SetWorkers(cfg.Workers)
	broker := sync.NewBroker(agg, store)

	startTime := time.Now()
	switch {
	case *markRead != "":
		instanceID, itemID, ok := strings.Cut(*markRead, "/")
		if !ok || instanceID == "" || itemID == "" {
			log.Fatalf("Invalid item format %q, expected instanceID/itemID", *markRead)
		}
		if err := broker.MarkRead(ctx, instanceID, itemID, false); err != nil {
			log.Fatalf("Failed to mark %s as read: %v", itemID, err)
		}
		log.Printf("Marked %s as read", itemID)
		return

	case *serve:
		if err := runServer(ctx, cfg, *configPath, broker, *workers); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
		return

	case *stream:
		for batch := range broker.Stream(ctx) {
			fmt.Println(renderProgress(batch))
		}

	case *fetch:
		inbox, err := broker.Refresh(ctx)
		if err != nil {
			log.Fatalf("Failed to fetch inbox: %v", err)
		}
		fmt.Print(renderInbox(inbox))
	}

	duration := time.Since(startTime)
	log.Printf("Fetch completed in %v", duration)
}

func printUsage() {
	fmt.Println("Work Inbox - Azure DevOps and GitHub in one list")
	fmt.Println("-----------------------------------------------")
	fmt.Println("Use -serve to run the HTTP API")
	fmt.Println("Use -fetch to fetch every instance once and print the inbox")
	fmt.Println("Use -stream to print progress while fetching")
	fmt.Println("Use -mark-read instanceID/itemID to mark a cached item as read")
	fmt.Println("Use -set-token account to store a token from stdin in the keychain")
	fmt.Println("Use -init to create a default configuration file")
	fmt.Println("Use -config path/to/config.json to specify a custom configuration file")
	fmt.Println()
	fmt.Println("A GitHub token can be provided via the INBOX_GITHUB_TOKEN environment variable")
}

// buildAdapters creates one adapter per enabled instance
func buildAdapters(cfg *config.Config) ([]sync.Adapter, error) {
	var adapters []sync.Adapter
	for _, inst := range cfg.EnabledInstances() {
		model := inst.Model(inst.Provider)
		switch inst.Provider {
		case models.ProviderAzureDevOps:
			client := api.NewAzureClient(inst.BaseURL, inst.Token)
			adapters = append(adapters, api.NewAzureAdapter(model, client, cfg.Workers))
		case models.ProviderGitHub:
			client, err := api.NewGitHubClient(inst.Token, inst.BaseURL)
			if err != nil {
				return nil, fmt.Errorf("instance %s: %w", inst.ID, err)
			}
			graphql := api.NewGraphQLClient(inst.Token, inst.BaseURL)
			adapters = append(adapters, api.NewGitHubAdapter(model, client, graphql, inst.Username))
		}
	}
	return adapters, nil
}

// runServer serves the API until ctx is done. Config changes swap the adapter set in place.
func runServer(ctx context.Context, cfg *config.Config, configPath string, broker *sync.Broker, workersFlag int) error {
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewHTTPServer(broker, cfg.Server.CORSOrigin).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	safego.Go("config.watch", func() {
		err := config.Watch(ctx, configPath, config.LoadResolved, func(next *config.Config) {
			if workersFlag > 0 {
				next.Workers = workersFlag
			}
			adapters, err := buildAdapters(next)
			if err != nil {
				logging.WithError(err, "rebuild clients")
				return
			}
			broker.Aggregator().SetWorkers(next.Workers)
			broker.SetAdapters(adapters)
			logging.Info("Now serving %d instances", len(adapters))
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.WithError(err, "config watcher stopped")
		}
	})

	errc := make(chan error, 1)
	go func() {
		logging.Info("Listening on %s", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
