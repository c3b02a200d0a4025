package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/loom/internal/client"
	"github.com/haasonsaas/loom/internal/config"
	"github.com/haasonsaas/loom/internal/gateway"
	"github.com/haasonsaas/loom/internal/observability"
	"github.com/haasonsaas/loom/internal/protocol"
	"github.com/haasonsaas/loom/internal/provider"
	"github.com/haasonsaas/loom/internal/ratelimit"
	"github.com/haasonsaas/loom/internal/session"
	"github.com/haasonsaas/loom/internal/storage"
	"github.com/haasonsaas/loom/internal/tools"
	"github.com/haasonsaas/loom/internal/tree"
	"github.com/haasonsaas/loom/pkg/models"
)

func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug || cfg.Level == "debug" {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func newProvider(cfg config.LLMConfig) (provider.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case "scripted":
		// Offline development mode.
		return provider.NewScripted(provider.TextScript("scripted provider is live")), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, debug)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics(nil)

	store, err := storage.NewSQLite(storage.SQLiteConfig{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	defer store.Close()

	llm, err := newProvider(cfg.LLM)
	if err != nil {
		return err
	}

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry)
	spacer := ratelimit.NewSpacer(ratelimit.Config{
		MinInterval: cfg.Tools.MinInterval,
		MaxWait:     cfg.Tools.MaxWait,
		Enabled:     !cfg.Tools.Disabled,
	})
	pipeline := tools.NewPipeline(registry, spacer, logger)

	agents := gateway.NewRegistry(func(conversationID string) *session.Agent {
		return session.New(session.Options{
			ConversationID: conversationID,
			Config: session.Config{
				Model:         cfg.LLM.Model,
				SystemPrompt:  cfg.Agent.SystemPrompt,
				MaxIterations: cfg.Agent.MaxIterations,
				MaxTokens:     cfg.Agent.MaxTokens,
			},
			Provider: llm,
			Pipeline: pipeline,
			Registry: registry,
			Store:    store,
			Logger:   logger,
			Metrics:  metrics,
		})
	})

	server := gateway.NewServer(gateway.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, agents, logger, metrics)

	if err := server.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runChat(ctx context.Context, url, conversationID string) error {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	state := tree.NewState()
	finished := make(chan models.SessionStatus, 1)
	var reply strings.Builder

	callbacks := client.Callbacks{
		OnEvent: func(requestID string, event protocol.Event) {
			switch event.Kind {
			case protocol.EventContent:
				reply.WriteString(event.Content)
				fmt.Print(event.Content)
			case protocol.EventToolCall:
				fmt.Printf("\n[tool %s]\n", event.Tool)
			case protocol.EventError:
				fmt.Printf("\n[error] %s\n", event.ErrorMessage)
			}
		},
		OnBusy: func(currentRequestID string) {
			fmt.Printf("[busy: request %s is running]\n", currentRequestID)
		},
		OnFinished: func(requestID string, status models.SessionStatus) {
			finished <- status
		},
	}

	link, err := client.Dial(ctx, url, conversationID, callbacks, slog.Default())
	if err != nil {
		return err
	}
	defer link.Close()

	fmt.Printf("connected to %s (conversation %s); empty line to exit\n", url, conversationID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}

		state = tree.Add(state, models.RoleUser, []models.Block{models.TextBlock(line)},
			time.Now().UTC().Format(time.RFC3339))
		reply.Reset()

		snapshot := state
		if err := link.SendMessage(client.NewRequestID(), models.RoleUser, nil, &snapshot); err != nil {
			return err
		}

		select {
		case status := <-finished:
			fmt.Println()
			if status == models.StatusCompleted && reply.Len() > 0 {
				state = tree.Add(state, models.RoleAssistant,
					[]models.Block{models.TextBlock(reply.String())},
					time.Now().UTC().Format(time.RFC3339))
			} else if status != models.StatusCompleted {
				fmt.Printf("[finished: %s]\n", status)
			}
		case <-link.Done():
			return fmt.Errorf("connection lost")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func runSessionsList(ctx context.Context, configPath string, limit int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	store, err := storage.NewSQLite(storage.SQLiteConfig{Path: cfg.Database.Path})
	if err != nil {
		return err
	}
	defer store.Close()

	convs, err := store.List(ctx, limit, 0)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Println("no conversations")
		return nil
	}

	fmt.Printf("%-36s  %-19s  %5s  %s\n", "ID", "UPDATED", "MSGS", "TITLE")
	for _, c := range convs {
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Printf("%-36s  %-19s  %5d  %s\n",
			c.ID, c.UpdatedAt.Local().Format("2006-01-02 15:04:05"), len(c.Messages), title)
	}
	return nil
}
