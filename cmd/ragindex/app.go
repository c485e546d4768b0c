package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"ragindex/internal/chunker"
	"ragindex/internal/config"
	"ragindex/internal/domain"
	"ragindex/internal/embedding"
	"ragindex/internal/embedding/hashing"
	"ragindex/internal/embedding/openai"
	"ragindex/internal/logging"
	"ragindex/internal/search"
	"ragindex/internal/vectorstore"
)

// app carries the state shared by every subcommand.
type app struct {
	cfgPath  string
	indexDir string
	verbose  bool
	jsonLogs bool

	cfg    *config.AppConfig
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "ragindex",
		Short:         "Build and query a persistent vector index of text chunks",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "Path to YAML config file (optional; uses ./ragindex.yaml or ~/.config/ragindex/config.yaml if not provided)")
	root.PersistentFlags().StringVar(&a.indexDir, "index-dir", "", "Index directory (overrides config and INDEX_DIR)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.jsonLogs, "log-json", false, "Log as JSON lines")

	root.AddCommand(a.buildCmd(), a.searchCmd(), a.healthCmd(), a.tuiCmd())
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	a.logger = logging.New(cmd.ErrOrStderr(), a.verbose, a.jsonLogs)

	var (
		cfg  *config.AppConfig
		path string
		err  error
	)
	if a.cfgPath == "" {
		cfg, path, err = config.LoadDefault()
	} else {
		path = a.cfgPath
		cfg, err = config.Load(a.cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.indexDir != "" {
		cfg.IndexDir = a.indexDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", path, err)
	}
	a.cfg = cfg
	a.logger.Debug("config loaded", "path", path, "index_dir", cfg.IndexDir, "embedder", cfg.Embedder.Type)
	return nil
}

func (a *app) newEmbedder() (domain.Embedder, error) {
	switch a.cfg.Embedder.Type {
	case "hashing":
		return hashing.New(a.cfg.Embedder.Hashing.Dimension), nil
	case "openai":
		oc := a.cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:           oc.BaseURL,
			APIKeyEnv:         oc.APIKeyEnv,
			Model:             oc.Model,
			Timeout:           time.Duration(oc.TimeoutSecs) * time.Second,
			RequestsPerSecond: oc.RequestsPerSecond,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		r := a.cfg.Embedder.Retry
		return embedding.NewRetrying(client, embedding.RetryPolicy{
			MaxAttempts: r.MaxAttempts,
			BaseDelay:   r.BaseDelay(),
			MaxDelay:    r.MaxDelay(),
			Jitter:      r.Jitter,
		}, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown embedder: %s", a.cfg.Embedder.Type)
	}
}

func (a *app) newSplitter() (chunker.Splitter, error) {
	c := a.cfg.Chunker
	switch c.Type {
	case "window":
		w, err := chunker.NewWindow(c.Size, c.Overlap)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "sentence":
		return chunker.NewSentenceChunker(c.SentencesPerChunk, c.OverlapSentences, c.Size*200), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", c.Type)
	}
}

// newEngine loads the persisted store for querying.
func (a *app) newEngine() (*search.Engine, error) {
	emb, err := a.newEmbedder()
	if err != nil {
		return nil, err
	}
	store, _ := vectorstore.Load(a.cfg.IndexDir, a.logger)
	return search.NewEngine(emb, store), nil
}
