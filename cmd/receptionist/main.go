package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/app"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/config"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/logging"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/routing"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/triage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "receptionist",
		Short:        "Real-time voice receptionist for medical practices",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())
	root.AddCommand(triageCmd())
	root.AddCommand(loadtestCmd())
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the call stream and HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			addr, _ := cmd.Flags().GetString("addr")
			return runServer(envFile, addr)
		},
	}
	cmd.Flags().String("env-file", ".env", "optional dotenv file; environment variables take precedence")
	cmd.Flags().String("addr", "", "listen address (overrides APP_BIND_ADDR)")
	return cmd
}

func runServer(envFile, addr string) error {
	cfg, err := config.LoadFile(envFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if strings.TrimSpace(addr) != "" {
		cfg.BindAddr = strings.TrimSpace(addr)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	built, err := app.Build(sigCtx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("startup failed")
		return err
	}
	log.Info().
		Str("speech", built.SpeechDetail).
		Str("llm_provider", cfg.LLMProvider).
		Int("max_concurrent_calls", built.Admission.Max()).
		Msg("pipeline ready")

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	built.Start(runCtx)

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	listenErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.BindAddr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- err
		}
		close(listenErr)
	}()

	select {
	case <-sigCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-listenErr:
		if err != nil {
			log.Error().Err(err).Msg("listen error")
			_ = built.Cleanup()
			return err
		}
	}

	// Stop admitting calls first, then give the ones in flight until the
	// shutdown timeout to hang up.
	built.API.Drain()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := built.Admission.Drain(shutdownCtx); err != nil {
		log.Warn().
			Int("active_calls", built.Admission.Stats().Active).
			Msg("calls still active at shutdown timeout")
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	runCancel()
	built.Orchestrator.Wait()
	if err := built.Cleanup(); err != nil {
		log.Warn().Err(err).Msg("cleanup reported errors")
	}
	log.Info().Msg("shutdown complete")
	return nil
}

type triageOutput struct {
	Text           string  `json:"text"`
	Language       string  `json:"language"`
	Level          string  `json:"level"`
	MatchedKeyword string  `json:"matched_keyword,omitempty"`
	Action         string  `json:"action"`
	Message        string  `json:"message"`
	Tier           string  `json:"tier"`
	LatencyUS      float64 `json:"latency_us"`
}

func triageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "triage <text>",
		Short: "Classify a caller phrase offline and print urgency and model tier",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			language, _ := cmd.Flags().GetString("language")
			text := strings.Join(args, " ")
			result := triage.DetectUrgency(text, language)
			out := triageOutput{
				Text:           text,
				Language:       triage.NormalizeLanguage(language),
				Level:          string(result.Level),
				MatchedKeyword: result.MatchedKeyword,
				Action:         result.Action,
				Message:        result.Message,
				Tier:           string(routing.ClassifyWithTriage(text, result)),
				LatencyUS:      float64(result.Latency.Nanoseconds()) / 1000,
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("language", "en", "caller language (en or es)")
	return cmd
}
