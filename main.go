package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"genai_studio/backend"
	"genai_studio/config"
	"genai_studio/export"
	"genai_studio/generator"
	"genai_studio/history"
	"genai_studio/identity"
	"genai_studio/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, backend.UserMessage(err))
		os.Exit(1)
	}
}

// app is everything a command needs, built once per invocation.
type app struct {
	cfg      config.Config
	log      *logger.Logger
	ids      *identity.Session
	backend  generator.Backend
	images   generator.ImageSource
	client   *backend.Client
	history  *history.Store
	exporter *export.Pipeline
	closers  []func() error

	unsubscribe func()
}

func newApp(ctx context.Context, configPath, user string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger.SetGlobal(log)

	provider, err := identity.NewLocalProvider(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, ids: identity.NewSession(provider, log)}
	if err := a.ids.Init(ctx); err != nil {
		return nil, err
	}

	switch cfg.Backend.Mode {
	case config.ModeHTTP:
		client, err := backend.New(backend.Options{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.API.Timeout,
			Tokens:  a.ids,
			Logger:  log,
		})
		if err != nil {
			return nil, err
		}
		a.client, a.backend, a.images = client, client, client
	case config.ModeDirect:
		agent, err := directAgent(cfg)
		if err != nil {
			return nil, err
		}
		a.backend = agent
	case config.ModeMock:
		a.backend = generator.NewMockBackend()
	}

	if a.client != nil {
		var cache history.Cache = history.NewMemoryCache()
		if cfg.History.RedisURL != "" {
			rc, err := history.NewRedisCache(cfg.History.RedisURL, cfg.History.RedisPrefix, cfg.History.CacheTTL)
			if err != nil {
				return nil, err
			}
			cache = rc
			a.closers = append(a.closers, rc.Close)
		}
		a.history = history.NewStore(a.client, cache, a.ids, log)
		a.unsubscribe = a.ids.OnChange(func(prev, next *identity.User) {
			if prev != nil && (next == nil || next.ID != prev.ID) {
				a.history.Forget(prev.ID)
			}
		})
	}

	a.exporter = export.New(export.Options{
		Printer:  &export.ChromePrinter{ExecPath: cfg.PDF.ExecPath, Timeout: cfg.PDF.Timeout},
		TitleMax: cfg.Export.TitleMax,
		Logger:   log,
	})

	if user != "" {
		u, err := a.ids.SignIn(ctx, user)
		if err != nil {
			return nil, err
		}
		log.Debug("signed in", zap.String("user_id", u.ID))
	}
	return a, nil
}

func directAgent(cfg config.Config) (*generator.Agent, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
	case "deepseek":
		// DeepSeek speaks the OpenAI protocol but has no default endpoint.
		if cfg.LLM.BaseURL == "" {
			return nil, errors.New("llm provider deepseek requires llm.base_url")
		}
	default:
		return nil, fmt.Errorf("llm provider %s not supported", cfg.LLM.Provider)
	}
	return generator.NewOpenAIBackend(&generator.LLMSettings{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	})
}

// historyStore fails for modes that have no history service behind them.
func (a *app) historyStore() (*history.Store, error) {
	if a.history == nil {
		return nil, fmt.Errorf("history needs backend.mode %s (current mode %s)", config.ModeHTTP, a.cfg.Backend.Mode)
	}
	return a.history, nil
}

func (a *app) close(ctx context.Context) {
	if a.history != nil {
		a.history.Wait()
	}
	// Ending the process is not a sign-out; keep the cached history.
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	if err := a.ids.Close(ctx); err != nil {
		a.log.Warn("sign out", zap.Error(err))
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn("close", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		user       string
		a          *app
	)
	root := &cobra.Command{
		Use:           "studio",
		Short:         "Generate, refine and export AI-written content",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			built, err := newApp(cmd.Context(), configPath, user)
			if err != nil {
				return err
			}
			a = built
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.close(context.WithoutCancel(cmd.Context()))
			}
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config file")
	root.PersistentFlags().StringVarP(&user, "user", "u", os.Getenv("STUDIO_USER"), "sign in as this email or user name")

	appFn := func() *app { return a }
	root.AddCommand(
		generateCmd(appFn),
		imagesCmd(appFn),
		historyCmd(appFn),
		uploadCmd(appFn),
		exportCmd(appFn),
		serveCmd(appFn),
		shellCmd(appFn),
	)
	return root
}
