package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/muhammadwildannabila/sawit-ripeness/internal/assets"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/config"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/handlers"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/ingest"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/model"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/report"
	"github.com/muhammadwildannabila/sawit-ripeness/internal/service"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	modelID  string
	csvPath  string
	onlyLow  bool
	showTop3 bool
	port     string
)

var rootCmd = &cobra.Command{
	Use:   "sawit",
	Short: "Oil-palm bunch ripeness classifier",
	Long:  `Classifies oil-palm fruit bunch images into 5 ripeness classes with confidence interpretation.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the classification dashboard and API",
	RunE:  serve,
}

var classifyCmd = &cobra.Command{
	Use:   "classify <image|dir|zip>...",
	Short: "Classify images from the command line",
	Args:  cobra.MinimumNArgs(1),
	RunE:  classify,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sawit %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	classifyCmd.Flags().StringVarP(&modelID, "model", "m", assets.DefaultModelID, "Model to use (base_cnn, mobilenetv2, efficientnetb0)")
	classifyCmd.Flags().StringVar(&csvPath, "csv", "", "Write results to a CSV file")
	classifyCmd.Flags().BoolVar(&onlyLow, "only-low", false, "Show only LOW confidence results")
	classifyCmd.Flags().BoolVar(&showTop3, "top3", false, "Show top-3 candidates per image")
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}
	if rootCmd.Execute() != nil {
		os.Exit(1)
	}
}

func newClassifier(cfg *config.Config) (*service.Classifier, error) {
	catalog := assets.DefaultCatalog(cfg.ModelsDir)
	if cfg.ManifestPath != "" {
		var err error
		catalog, err = assets.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return nil, err
		}
	}
	return service.New(catalog, model.NewRegistry(catalog))
}

func serve(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if port != "" {
		cfg.Port = port
	}

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	defer classifier.Close()

	handler := handlers.NewHandler(classifier)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handler.Health)
	mux.HandleFunc("/api/models", handler.Models)
	mux.HandleFunc("/api/classify", handler.Classify)
	mux.HandleFunc("/api/classify/zip", handler.ClassifyZip)
	mux.HandleFunc("/api/classify/csv", handler.ClassifyCSV)
	mux.HandleFunc("/", handler.Dashboard)

	addr := ":" + cfg.Port
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      enableCORS(mux),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", addr, "models_dir", cfg.ModelsDir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func classify(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	classifier, err := newClassifier(cfg)
	if err != nil {
		return err
	}
	defer classifier.Close()

	items, err := collectItems(args)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return service.ErrNoValidImages
	}

	bar := pb.StartNew(len(items))
	batch, err := classifier.ClassifyItems(modelID, items, func() { bar.Increment() })
	bar.Finish()
	if err != nil {
		return err
	}

	table := batch.Table.Sorted()
	if onlyLow {
		table = table.OnlyLow()
	}

	printTable(table)

	if csvPath != "" {
		data, err := table.CSV()
		if err != nil {
			return err
		}
		if err := os.WriteFile(csvPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write CSV: %w", err)
		}
		fmt.Printf("\nResults written to %s\n", csvPath)
	}
	return nil
}

// collectItems expands the CLI arguments into decoded images: plain
// image files, directories (top level only) and ZIP archives.
func collectItems(paths []string) ([]ingest.Item, error) {
	var items []ingest.Item
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("cannot read %s: %w", p, err)
		}

		switch {
		case info.IsDir():
			entries, err := os.ReadDir(p)
			if err != nil {
				return nil, fmt.Errorf("cannot read directory %s: %w", p, err)
			}
			for _, e := range entries {
				if e.IsDir() || !ingest.AllowedExtension(e.Name()) {
					continue
				}
				if item, ok := readImage(filepath.Join(p, e.Name())); ok {
					items = append(items, item)
				}
			}
		case strings.EqualFold(filepath.Ext(p), ".zip"):
			data, err := os.ReadFile(p)
			if err != nil {
				return nil, fmt.Errorf("cannot read %s: %w", p, err)
			}
			zipItems, err := ingest.FromZip(data)
			if err != nil {
				return nil, err
			}
			items = append(items, zipItems...)
		default:
			if !ingest.AllowedExtension(p) {
				continue
			}
			if item, ok := readImage(p); ok {
				items = append(items, item)
			}
		}
	}
	return items, nil
}

func readImage(path string) (ingest.Item, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ingest.Item{}, false
	}
	img, err := ingest.Decode(data)
	if err != nil {
		return ingest.Item{}, false
	}
	return ingest.Item{Name: filepath.Base(path), Image: img}, true
}

var levelColors = map[string]*color.Color{
	"HIGH":   color.New(color.FgGreen),
	"MEDIUM": color.New(color.FgYellow),
	"LOW":    color.New(color.FgRed),
}

func printTable(table report.Table) {
	s := table.Summary()
	fmt.Printf("\n%d images: %d HIGH, %d MEDIUM, %d LOW\n\n", s.Total, s.High, s.Medium, s.Low)

	for _, row := range table.Rows {
		c := levelColors[string(row.Level)]
		fmt.Printf("%-30s %-18s conf=%.4f margin=%.4f ", row.Filename, row.PredLabel, row.Confidence, row.Margin)
		c.Printf("%s\n", row.Level)
		if showTop3 {
			fmt.Printf("    top3: %s\n", row.Top3)
		}
	}
}
