package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evdnx/gotick/billing"
	"github.com/evdnx/gotick/broker"
	"github.com/evdnx/gotick/config"
	"github.com/evdnx/gotick/logger"
	"github.com/evdnx/gotick/registry"
	"github.com/evdnx/gotick/session"
	"github.com/evdnx/gotick/store"
	"github.com/evdnx/gotick/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tickbot: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath = flag.String("config", "configs/config.yaml", "path to the YAML configuration")
		botID   = flag.String("bot", "", "strategy id (overrides bot.id)")
		userID  = flag.String("user", "", "user id checked against billing grants (overrides bot.user)")
		paper   = flag.Bool("paper", false, "trade against the in-process paper broker")
		list    = flag.Bool("list", false, "list the available bots and exit")
		resume  = flag.Bool("resume", false, "restart the bot that was running when tickbot last exited")
	)
	flag.Parse()

	reg := registry.Default()
	if *list {
		for _, id := range reg.IDs() {
			e, _ := reg.Lookup(id)
			fmt.Printf("%-16s %-6s %s\n", id, e.Params.Symbol, e.Description)
		}
		return nil
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *botID != "" {
		cfg.Bot.ID = *botID
	}
	if *userID != "" {
		cfg.Bot.User = *userID
	}
	if *paper {
		cfg.Paper.Enabled = true
	}

	log, err := logger.NewZapLogger(cfg.Log.Level)
	if err != nil {
		return err
	}

	st, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	if *resume {
		id, ok, err := st.RunningBot()
		if err != nil {
			return fmt.Errorf("read running bot: %w", err)
		}
		if !ok {
			log.Info("nothing_to_resume")
			return nil
		}
		cfg.Bot.ID = id
	}
	if cfg.Bot.ID == "" {
		return errors.New("no bot selected, use -bot or bot.id (see -list)")
	}
	if _, ok := reg.Lookup(cfg.Bot.ID); !ok {
		return fmt.Errorf("%w: %q", registry.ErrUnknownStrategy, cfg.Bot.ID)
	}

	var gate billing.Gate = billing.NewStaticGate(cfg.Billing)
	if cfg.Paper.Enabled {
		gate = billing.AllowAll()
	}
	if err := billing.Check(gate, cfg.Bot.ID, cfg.Bot.User); err != nil {
		return err
	}

	botCfg, err := effectiveConfig(cfg, st, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}

	bot, err := reg.Build(cfg.Bot.ID, conn, botCfg, log, registry.WithCurrency(cfg.Broker.Currency))
	if err != nil {
		conn.Close()
		return err
	}

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{Addr: cfg.Metrics.Listen, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics_server_failed", logger.Err(err))
			}
		}()
		defer srv.Close()
		log.Info("metrics_listening", logger.String("addr", cfg.Metrics.Listen))
	}

	opts := session.Options{ReportCron: cfg.Report.Cron}
	if !cfg.Paper.Enabled {
		opts.Token = cfg.Broker.Token
	}
	s := session.New(cfg.Bot.ID, conn, bot, st, log, opts)
	log.Info("tickbot_running",
		logger.String("bot", cfg.Bot.ID),
		logger.Bool("paper", cfg.Paper.Enabled),
		logger.String("session", s.ID()),
	)
	reason, err := s.Run(ctx)
	if err != nil {
		return err
	}
	if reason == types.StopStopLoss {
		log.Warn("stop_loss_reached")
	}
	return nil
}

func openStore(cfg *config.AppConfig, log logger.Logger) (store.Store, error) {
	if cfg.Store.SQLitePath == "" {
		return store.NoopStore{}, nil
	}
	st, err := store.OpenSQLite(cfg.Store.SQLitePath, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

// effectiveConfig merges the file's bot config over the saved one, parses
// it and saves the result for the next run.
func effectiveConfig(cfg *config.AppConfig, st store.Store, log logger.Logger) (config.BotConfig, error) {
	saved, _, err := st.LoadBotConfig(cfg.Bot.ID)
	if err != nil {
		log.Warn("store_load_config_failed", logger.Err(err))
	}
	botCfg, err := config.ParseBotConfig(cfg.Bot.Config.Merge(saved))
	if err != nil {
		return config.BotConfig{}, fmt.Errorf("bot config for %s: %w", cfg.Bot.ID, err)
	}
	if err := st.SaveBotConfig(cfg.Bot.ID, botCfg.Raw()); err != nil {
		log.Warn("store_save_config_failed", logger.Err(err))
	}
	return botCfg, nil
}

func connect(ctx context.Context, cfg *config.AppConfig, log logger.Logger) (broker.Conn, error) {
	if cfg.Paper.Enabled {
		p := broker.NewPaperBroker(cfg.Paper, log)
		go p.Run(ctx)
		return p, nil
	}
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	conn, err := broker.Dial(dialCtx, cfg.StreamURL(), log)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	return conn, nil
}
