/*
Conquest is an online tabular Q-learning agent for a tick-driven territory game. It either
dials out to the game host as a bot client, or listens for a game plugin to connect in,
and learns from every game it plays. What it learns lives in a single value table shared
by every session in the process and merged into a file on disk, so several agent
processes may train against the same table.
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"conquest/metrics"
	"conquest/reinforcement"
	"conquest/server"
	"conquest/session"
	"conquest/supervisor"
	"conquest/value_table"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

const (
	modeClient = "client"
	modeServer = "server"
)

// options are the runtime settings, from flags overridden by CONQUEST_* env vars.
type options struct {
	mode     string
	url      string
	listen   string
	username string
	table    string
	config   string
	autosave time.Duration
	history  string
	debug    bool
	queue    int
}

func loadOptions(args []string) (*options, error) {
	flags := pflag.NewFlagSet("conquest", pflag.ContinueOnError)
	flags.String("mode", modeClient, "client: dial the game host; server: accept plugin connections")
	flags.String("url", "ws://localhost:3000/bot", "game host websocket url (client mode)")
	flags.String("listen", ":8765", "listen address (server mode)")
	flags.String("username", "", "bot name announced to the host; derived from the client id if empty")
	flags.String("table", "qtable.bin", "value table file")
	flags.String("config", "./config.yaml", "training config file")
	flags.Duration("autosave", 300*time.Second, "value table autosave period, 0 to only save at session end")
	flags.String("history", "", "sqlite file recording finished games; empty disables it")
	flags.Bool("debug", false, "debug logging")
	flags.Int("queue", 1, "action channel capacity")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	vp := viper.New()
	vp.SetEnvPrefix("CONQUEST")
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	if err := vp.BindPFlags(flags); err != nil {
		return nil, err
	}

	opts := &options{
		mode:     vp.GetString("mode"),
		url:      vp.GetString("url"),
		listen:   vp.GetString("listen"),
		username: vp.GetString("username"),
		table:    vp.GetString("table"),
		config:   vp.GetString("config"),
		autosave: vp.GetDuration("autosave"),
		history:  vp.GetString("history"),
		debug:    vp.GetBool("debug"),
		queue:    vp.GetInt("queue"),
	}
	if opts.mode != modeClient && opts.mode != modeServer {
		return nil, fmt.Errorf("unknown mode %q", opts.mode)
	}
	return opts, nil
}

func setupLogging(debug bool) {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func runApp(opts *options) (err error) {
	var algConfig *reinforcement.TrainingConfig
	if algConfig, err = reinforcement.FromYaml(opts.config); err != nil {
		return fmt.Errorf("config %s: %w", opts.config, err)
	}

	appCtx, appCancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer appCancel()

	trainingCtx, trainingCancel, err := algConfig.WithTrainingDeadline(appCtx)
	if err != nil {
		return err
	}
	defer trainingCancel()

	table := value_table.Open(opts.table)
	policy := reinforcement.NewPolicy(
		table,
		algConfig.Params(),
		reinforcement.WithReward(reinforcement.ShapedReward(algConfig.RewardConfig())),
	)

	var history *metrics.History
	if opts.history != "" {
		if history, err = metrics.OpenHistory(opts.history); err != nil {
			return err
		}
		defer history.Close()
	}
	recorder := metrics.NewRecorder(history)

	sessionCfg := session.DefaultConfig()
	sessionCfg.QueueSize = opts.queue

	group, groupCtx := errgroup.WithContext(trainingCtx)
	group.Go(func() error {
		return session.RunPersistence(groupCtx, table, opts.autosave)
	})

	switch opts.mode {
	case modeServer:
		srv := server.NewServer(opts.listen, policy, recorder, sessionCfg)
		group.Go(func() error { return srv.Serve(groupCtx) })
	default:
		sup := supervisor.New(supervisor.Config{
			URL:      opts.url,
			Username: opts.username,
			Session:  sessionCfg,
		}, policy, recorder)
		group.Go(func() error { return sup.Run(groupCtx) })
	}

	err = group.Wait()

	if saveErr := table.Save(); saveErr != nil {
		log.Error().Err(saveErr).Msg("final save failed")
	}
	summary := recorder.Summary()
	log.Info().
		Int("games", summary.TotalGames).
		Float64("avgScore", summary.AvgScore).
		Int("states", table.Len()).
		Msg("shutting down")
	return
}

func main() {
	opts, err := loadOptions(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogging(opts.debug)

	if err := runApp(opts); err != nil {
		log.Error().Err(err).Msg("conquest failed")
		os.Exit(1)
	}
}
