package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/alecthomas/kong"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hmcalister/wordduel-server/internal/bot"
	"github.com/hmcalister/wordduel-server/internal/config"
	"github.com/hmcalister/wordduel-server/internal/content"
	"github.com/hmcalister/wordduel-server/internal/domain"
	"github.com/hmcalister/wordduel-server/internal/httpapi"
	"github.com/hmcalister/wordduel-server/internal/httpmw"
	"github.com/hmcalister/wordduel-server/internal/identity"
	"github.com/hmcalister/wordduel-server/internal/matchmaking"
	"github.com/hmcalister/wordduel-server/internal/metrics"
	"github.com/hmcalister/wordduel-server/internal/oracle"
	"github.com/hmcalister/wordduel-server/internal/session"
	"github.com/hmcalister/wordduel-server/internal/transport"
)

// CLI mirrors the teacher's flag.Int/flag.Bool main.go, reworked in
// storbeck-augustus's kong style (spec.md §6 "Configuration. Read once at
// startup").
var CLI struct {
	// Port has no kong default: zero means "not passed on the command line",
	// so config.Load's own default/config-file value for server.port is left
	// alone unless the operator explicitly passes --port.
	Port    int    `help:"The port to use for the HTTP server. Overrides server.port from the config file." env:"WORDDUEL_SERVER__PORT"`
	Config  string `help:"Path to a YAML config file overlaying the defaults." type:"existingfile" optional:""`
	Debug   bool   `help:"Enable debug level with console log output." short:"d"`
	LogFile string `help:"Path to the rotated log file." default:"./logs/log"`
}

func main() {
	kong.Parse(&CLI,
		kong.Name("wordduel-server"),
		kong.Description("Authoritative realtime server for the word-replacement duel game."),
		kong.UsageOnError(),
	)

	setupLogging()

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if CLI.Port != 0 {
		cfg.Server.Port = CLI.Port
	}

	counters := metrics.New()
	provider := content.NewInMemoryProvider(1, seedPrompts())
	identityColl := identity.NewJWTAuthenticator([]byte(cfg.Server.JWTKey), cfg.Game.BotNamesByLanguage, 1)

	oracleClient, err := oracle.NewClient(cfg.Oracle, provider, counters)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build validation oracle client")
	}

	botPolicy := bot.NewPolicy(cfg.Bot, oracleClient, provider, rand.New(rand.NewSource(2)))
	engine := session.NewEngine(provider, oracleClient, identityColl, cfg.Game, cfg.XP, counters)
	scheduler := session.NewScheduler(engine, botPolicy, cfg.Game, rand.New(rand.NewSource(3)))
	registry := session.NewRegistry(counters)

	pool := matchmaking.New(cfg.Game, identityColl, counters, 4, func(s *domain.Session) {
		registry.Put(s)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.RunAgeOutSweep(ctx)

	manager := transport.NewManager(registry, engine, scheduler, identityColl)
	mmAPI := httpapi.NewMatchmakingAPI(pool, identityColl)

	router := chi.NewRouter()
	router.Use(httpmw.ZerologLogger)
	router.Use(httpmw.RecoverWithInternalServerError)

	router.Get("/find", mmAPI.Find)
	router.Post("/cancel", mmAPI.Cancel)

	router.Group(func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Get("/ws/{gameID}", manager.HandleWS)
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Info().Str("addr", addr).Msg("starting wordduel-server")
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatal().Err(err).Msg("http listen and serve failed")
	}
}

// seedPrompts is a placeholder prompt set for the in-memory Content
// Provider (spec.md §1 leaves schema/migrations for a real prompt store out
// of scope); a production deployment swaps content.InMemoryProvider for one
// backed by whatever database holds the authored prompt bank.
func seedPrompts() []*domain.Prompt {
	return []*domain.Prompt{
		{ID: 1, Sentence: "It was a hot day.", TargetWord: "hot", PromptText: "be more extreme", Language: "en", Difficulty: 1},
		{ID: 2, Sentence: "She gave a small smile.", TargetWord: "small", PromptText: "be more vivid", Language: "en", Difficulty: 2},
		{ID: 3, Sentence: "The old house creaked at night.", TargetWord: "old", PromptText: "be more evocative", Language: "en", Difficulty: 2},
		{ID: 4, Sentence: "Hacía un día caluroso.", TargetWord: "caluroso", PromptText: "sé más extremo", Language: "es", Difficulty: 1},
		{ID: 5, Sentence: "Ella sonrió levemente.", TargetWord: "levemente", PromptText: "sé más vívido", Language: "es", Difficulty: 2},
	}
}

// setupLogging follows the teacher's main.go dual-sink pattern: a rotated
// file always, plus a console writer added only in debug mode.
func setupLogging() {
	logFileHandle := &lumberjack.Logger{
		Filename: CLI.LogFile,
		MaxSize:  100,
		MaxAge:   31,
		Compress: true,
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.
		With().Caller().Logger().
		With().Timestamp().Logger()

	log.Logger = log.Output(logFileHandle)
	if CLI.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout}
		multiWriter := zerolog.MultiLevelWriter(consoleWriter, logFileHandle)
		log.Logger = log.Output(multiWriter)
	}
}
