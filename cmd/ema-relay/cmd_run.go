package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	orchestration "github.com/danstonedev/EMRsim-chat-sub004/core"
	"github.com/danstonedev/EMRsim-chat-sub004/core/events"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime/deepgram"
	"github.com/danstonedev/EMRsim-chat-sub004/core/realtime/openai"
	"github.com/danstonedev/EMRsim-chat-sub004/core/relay"
	"github.com/danstonedev/EMRsim-chat-sub004/core/relay/sqlite"
	"github.com/danstonedev/EMRsim-chat-sub004/core/relay/webhook"
	"github.com/danstonedev/EMRsim-chat-sub004/internal/config"
	"github.com/danstonedev/EMRsim-chat-sub004/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	audioChunkDuration = 100 * time.Millisecond
	keepAliveInterval  = 5 * time.Second
)

type runOptions struct {
	configPath string
	envFiles   []string
	audioStdin bool
}

// transcriptSession is the realtime connection the engine is fed from.
type transcriptSession interface {
	Listen(ctx context.Context, handle func(raw []byte)) error
	SendAudio(audio []byte) error
	Close() error
}

type transcriptSource struct {
	session     transcriptSession
	normalizer  realtime.Normalizer
	diagnostics *realtime.Diagnostics
}

func newRunCommand() *cobra.Command {
	options := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a realtime session and relay its transcripts",
		Long: `Connect to a realtime session and relay its transcripts.

Configuration is read from the optional YAML file and then from the
environment (.env files are loaded first). Finalized utterances are printed
to stdout as they are settled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRelay(cmd, options)
		},
	}

	cmd.Flags().StringVarP(&options.configPath, "config", "c", "", "YAML configuration file")
	cmd.Flags().StringArrayVar(&options.envFiles, "env-file", nil, "Environment file to load (can be repeated, default: .env)")
	cmd.Flags().BoolVar(&options.audioStdin, "audio-stdin", false, "Stream raw audio from stdin into the session")

	return cmd
}

func runRelay(cmd *cobra.Command, options *runOptions) error {
	if err := godotenv.Load(options.envFiles...); err != nil {
		slog.Info("no .env file loaded, using environment variables", "error", err)
	}

	cfg, err := config.Load(options.configPath)
	if err != nil {
		return err
	}

	telemetryConfig := telemetry.Config{
		Dir:            cfg.Telemetry.LogDir,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		LogLevel:       cfg.Telemetry.LogLevel,
		MetricInterval: cfg.Telemetry.MetricInterval,
	}
	logger, closeLog, err := telemetry.InitLogger(telemetryConfig)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.InitTelemetry(ctx, telemetryConfig)
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "error", err)
		}
	}()

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logger.Error("failed to close backend", "error", err)
		}
	}()

	source, err := connectSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer source.session.Close()

	engine := orchestration.NewEngine(append(engineOptions(cfg, logger),
		orchestration.WithBackend(backend),
		orchestration.WithNormalizer(source.normalizer),
	)...)
	if err := engine.Run(ctx, printUtterances(cmd.OutOrStdout(), logger)...); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	logger.Info("relay started",
		"dialect", cfg.Transport.Dialect,
		"backend", cfg.Backend.Kind,
		"turn_boundary", cfg.Engine.TurnBoundary,
	)

	sessionCtx, endSession := context.WithCancel(ctx)
	defer endSession()

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error {
		// The remote closing the session ends the run.
		defer endSession()
		return source.session.Listen(gctx, func(raw []byte) {
			if !engine.Ingest(raw) {
				logger.Warn("dropping message received after shutdown began")
			}
		})
	})
	if keeper, ok := source.session.(interface{ KeepAlive() error }); ok {
		g.Go(func() error {
			return keepAlive(gctx, keeper.KeepAlive)
		})
	}
	if options.audioStdin {
		// Reads from stdin cannot be interrupted, so the stream is not part of
		// the group and simply stops when the session closes.
		go func() {
			chunkSize := cfg.AudioEncoding().ChunkBytes(audioChunkDuration)
			if err := streamAudio(gctx, cmd.InOrStdin(), source.session, chunkSize); err != nil {
				logger.Error("audio stream ended", "error", err)
			}
		}()
	}

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.TeardownTimeout+time.Second)
	defer cancel()
	closeErr := engine.Close(closeCtx)

	if diagnostics := source.diagnostics; diagnostics.Total() > 0 {
		logger.Warn("dropped protocol messages", "total", diagnostics.Total(), "by_reason", diagnostics.Dropped())
	}
	logger.Info("relay stopped", "error", errors.Join(runErr, closeErr))

	return errors.Join(runErr, closeErr)
}

func engineOptions(cfg *config.Config, logger *slog.Logger) []orchestration.EngineOption {
	return []orchestration.EngineOption{
		orchestration.WithTurnBoundaryPolicy(cfg.TurnBoundaryPolicy()),
		orchestration.WithIdleFinalizeAfter(cfg.Engine.IdleFinalizeAfter),
		orchestration.WithRetainTurns(cfg.Engine.RetainTurns),
		orchestration.WithQueueCapacity(cfg.Engine.QueueCapacity),
		orchestration.WithTeardownTimeout(cfg.Engine.TeardownTimeout),
		orchestration.WithLogger(logger),
		orchestration.WithRelayOptions(
			relay.WithMaxRetries(cfg.Backend.MaxRetries),
			relay.WithBackoff(cfg.Backend.InitialBackoff, cfg.Backend.MaxBackoff),
		),
	}
}

func openBackend(cfg *config.Config) (relay.Backend, func() error, error) {
	noClose := func() error { return nil }

	switch cfg.Backend.Kind {
	case config.BackendWebhook:
		var opts []webhook.Option
		if cfg.Backend.WebhookToken != "" {
			opts = append(opts, webhook.WithHeader("Authorization", "Bearer "+cfg.Backend.WebhookToken))
		}
		if cfg.Backend.ValidatePayloads {
			opts = append(opts, webhook.WithPayloadValidation())
		}
		backend, err := webhook.New(cfg.Backend.WebhookURL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create webhook backend: %w", err)
		}
		return backend, noClose, nil
	case config.BackendSQLite:
		backend, err := sqlite.Open(cfg.Backend.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite backend: %w", err)
		}
		return backend, backend.Close, nil
	default:
		return relay.DiscardBackend, noClose, nil
	}
}

func connectSource(ctx context.Context, cfg *config.Config) (*transcriptSource, error) {
	transport := cfg.Transport

	switch transport.Dialect {
	case config.DialectDeepgram:
		diagnostics := realtime.NewDiagnostics(deepgram.Dialect)
		session, err := deepgram.Connect(ctx, transport.APIKey,
			deepgram.WithURL(transport.URL),
			deepgram.WithModel(transport.Model),
			deepgram.WithLanguage(transport.Language),
			deepgram.WithEncoding(cfg.AudioEncoding()),
		)
		if err != nil {
			return nil, err
		}
		return &transcriptSource{
			session:     session,
			normalizer:  deepgram.NewNormalizer(deepgram.WithDiagnostics(diagnostics)),
			diagnostics: diagnostics,
		}, nil
	default:
		diagnostics := realtime.NewDiagnostics(openai.Dialect)
		session, err := openai.Connect(ctx, transport.APIKey,
			openai.WithURL(transport.URL),
			openai.WithModel(transport.Model),
			openai.WithTranscriptionModel(transport.TranscriptionModel),
			openai.WithInstructions(transport.Instructions),
			openai.WithInputEncoding(cfg.AudioEncoding()),
		)
		if err != nil {
			return nil, err
		}
		return &transcriptSource{
			session:     session,
			normalizer:  openai.NewNormalizer(openai.WithDiagnostics(diagnostics)),
			diagnostics: diagnostics,
		}, nil
	}
}

func printUtterances(out io.Writer, logger *slog.Logger) []orchestration.RunOption {
	return []orchestration.RunOption{
		orchestration.WithFinalizedCallback(func(event events.UtteranceFinalized) {
			fmt.Fprintf(out, "[%s] %s (%s)\n", event.Speaker, event.Text, event.Confidence)
		}),
		orchestration.WithProvisionalCallback(func(event events.UtteranceProvisional) {
			logger.Debug("utterance force-finalized", "item_id", event.ItemID, "speaker", event.Speaker, "text", event.Text)
		}),
		orchestration.WithRelayedCallback(func(event events.UtteranceRelayed) {
			if event.Err != nil {
				logger.Error("utterance lost", "item_id", event.ItemID, "attempts", event.Attempts, "error", event.Err)
			}
		}),
	}
}

func keepAlive(ctx context.Context, send func() error) error {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := send(); err != nil {
				return fmt.Errorf("failed to send keep alive: %w", err)
			}
		}
	}
}

func streamAudio(ctx context.Context, in io.Reader, session transcriptSession, chunkSize int) error {
	chunk := make([]byte, chunkSize)
	for {
		n, err := in.Read(chunk)
		if n > 0 {
			if ctx.Err() != nil {
				return nil
			}
			if sendErr := session.SendAudio(chunk[:n]); sendErr != nil {
				return fmt.Errorf("failed to send audio: %w", sendErr)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audio: %w", err)
		}
	}
}
