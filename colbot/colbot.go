package colbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

var (
	// Version is set at build time with
	// -ldflags "-X github.com/bunchuq1122/COL-BOT/colbot.Version=$$(date +'%Y%m%d')"
	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// Bot wires the level workflows to discord, the store and the HTTP API
type Bot struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler
	metrics    *Metrics

	discord  *Discord
	api      *API
	notifier *discordNotifier

	gateway   *Gateway
	ledger    *Ledger
	ranked    Backend
	closers   []Closer
	workflows *Workflows

	runMu       sync.Mutex
	startedAt   time.Time
	signalReady chan struct{}
	signalStop  chan struct{}

	// getInteractionHandlerFunc returns the InteractionHandler for an
	// incoming gateway interaction
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New validates the non-runtime parts of the config and builds a Bot.
// Nothing is connected until [Bot.Run].
func New(config *Config) (*Bot, error) {
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	b := &Bot{
		config:      config,
		signalReady: make(chan struct{}, 1),
		metrics:     NewMetrics(),
	}

	b.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     b.config.LogLevel,
			AddSource: true,
		},
	)
	b.logger = slog.New(b.logHandler)
	slog.SetDefault(b.logger)

	b.config.Discord.httpClient = b.config.HTTPClient

	disc := newDiscord(b.config.Discord, b.metrics)
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     b.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)
	disc.logger = slog.New(newLogHandler(b.config.Discord.LogLevel)).With(loggerNameKey, "discord")
	b.discord = disc

	if config.API != nil && config.API.Enabled {
		api, err := newAPI(b, config.API)
		if err != nil {
			errs = append(errs, err)
		}
		b.api = api
	}

	return b, errors.Join(errs...)
}

func (b *Bot) ValidateConfig() error {
	return structValidator.Struct(b.config)
}

// Metrics returns the bot's prometheus collectors
func (b *Bot) Metrics() *Metrics {
	return b.metrics
}

// Workflows returns the command workflows. Nil until the store has
// been initialized by Run.
func (b *Bot) Workflows() *Workflows {
	return b.workflows
}

// RegisterSlashCommands overwrites the guild's slash commands with
// /verifyme, /vote and /list
func (b *Bot) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return b.discord.registerCommands(options...)
}

// Run connects the store, the HTTP API and the discord gateway, then
// blocks until ctx is canceled, and shuts down gracefully.
func (b *Bot) Run(ctx context.Context) error {
	// prevents concurrent runs
	b.runMu.Lock()
	defer b.runMu.Unlock()

	b.signalStop = make(chan struct{}, 1)
	b.startedAt = time.Now()
	logger := b.logger

	if err := b.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", b.config))
	if b.signalReady == nil {
		b.signalReady = make(chan struct{}, 1)
	}

	// canceling this context triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-b.signalStop:
			b.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			b.logger.Warn("context canceled, sending stop signal")
			b.signalStop <- struct{}{}
			return
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- b.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			b.closeStore(ctx)
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if b.api != nil {
		go func() {
			httpErr := b.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				b.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	if discErr := b.initDiscordSession(ctx, runtimeWG); discErr != nil {
		b.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	if err := b.discordInit(ctx, logger); err != nil {
		return err
	}

	b.signalReady <- struct{}{}
	b.logger.InfoContext(ctx, "sent ready signal")

	// block until something cancels the main runtime context, generally
	// an interrupt
	stopCh := make(chan struct{}, 1)
	go func() {
		<-ctx.Done()
		stopCh <- struct{}{}
	}()
	<-stopCh

	return b.shutdown(ctx, runtimeWG)
}

// initRun opens the configured store and the ranked document, and
// loads the pending levels once to report their count
func (b *Bot) initRun(startCtx context.Context) error {
	storeLogger := slog.New(newLogHandler(b.config.Store.LogLevel)).With(loggerNameKey, "store")

	if b.gateway == nil {
		gateway, closers, err := OpenGateway(
			startCtx,
			b.config.Store,
			storeLogger,
			b.config.HTTPClient,
			b.metrics,
		)
		if err != nil {
			return fmt.Errorf("error initializing store: %w", err)
		}
		b.closers = append(b.closers, closers...)
		b.gateway = gateway
	}
	if b.ledger == nil {
		b.ledger = NewLedger(b.gateway)
	}

	if rankedID := b.config.Store.Google.RankedDocumentID; rankedID != "" && b.ranked == nil {
		service, err := newGoogleDocsService(startCtx, b.config.Store.Google, b.config.HTTPClient)
		if err != nil {
			return fmt.Errorf("error initializing ranked document: %w", err)
		}
		b.ranked = NewGoogleDocBackend(service, rankedID, b.config.Store.Google.RequestsPerSecond)
	}

	reg := b.ledger.View(startCtx)
	storeLogger.InfoContext(
		startCtx,
		"loaded pending levels",
		"backend", b.gateway.BackendName(),
		"count", reg.Len(),
	)
	return nil
}

// initWorkflows builds the workflows around the current discord session
func (b *Bot) initWorkflows() {
	b.notifier = newDiscordNotifier(
		b.discord.session,
		b.config.Discord.GuildID,
		b.discord.logger,
	)
	b.workflows = NewWorkflows(
		WorkflowDeps{
			Ledger:   b.ledger,
			GuildID:  b.config.Discord.GuildID,
			Guild:    *b.config.Guild,
			Resolver: b.notifier,
			Notifier: b.notifier,
			Ranked:   b.ranked,
			Metrics:  b.metrics,
			Logger:   b.logger,
		},
	)
}

// discordInit opens the discord websocket connection and registers
// the slash commands
func (b *Bot) discordInit(ctx context.Context, logger *slog.Logger) error {
	b.logger.InfoContext(ctx, "connecting to discord")
	if err := b.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	if _, err := b.RegisterSlashCommands(discordgo.WithContext(ctx)); err != nil {
		logger.ErrorContext(ctx, "error registering slash commands", tint.Err(err))
	}
	if status := b.config.Discord.CustomStatus; status != "" {
		go func() {
			if statusErr := b.discord.session.UpdateCustomStatus(status); statusErr != nil {
				logger.Error("error updating discord status", tint.Err(statusErr))
			}
		}()
	}
	return nil
}

func (b *Bot) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := b.logger.With(loggerNameKey, "discord_session")

	if b.discord.session == nil {
		disc, discErr := b.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		b.discord.session = disc
	}
	b.initWorkflows()

	ctx = WithLogger(ctx, logger)

	for _, h := range b.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	b.discord.session.SetIdentify(
		discordgo.Identify{
			Intents: b.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{
				Status: string(discordgo.StatusOnline),
			},
		},
	)

	b.discord.discordgoRemoveHandlerFuncs = []func(){
		b.discord.session.AddHandler(b.discord.handlerConnect()),
		b.discord.session.AddHandler(b.discord.handlerDisconnect()),
		b.discord.session.AddHandler(b.discord.handlerReady()),
		b.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := b.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.handleInteraction(ctx, handler)
				}()
			},
		),
		b.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				m *discordgo.MessageCreate,
			) {
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					b.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}

	if b.getInteractionHandlerFunc == nil {
		b.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     b.discord.session,
				interaction: i,
				logger: b.discord.logger.With(
					slog.Group(
						"interaction",
						interactionLogAttrs(*i)...,
					),
				),
			}
		}
	}
	return nil
}

func (b *Bot) closeStore(ctx context.Context) {
	for _, c := range b.closers {
		if err := c.Close(); err != nil {
			b.logger.WarnContext(ctx, "error closing store backend", tint.Err(err))
		}
	}
	b.closers = nil
}

func (b *Bot) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	b.logger.WarnContext(ctx, "shutting down")
	shutdownStart := time.Now()
	shutdownTimeout := b.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		b.logger.Warn("immediate shutdown")
		if b.api != nil {
			go func() {
				_ = b.api.httpServer.Close()
			}()
		}
		return fmt.Errorf("handlers did not stop in time")
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	announcementTicker := time.NewTicker(10 * time.Second)
	defer announcementTicker.Stop()

	b.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", shutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		// in-flight commands finish their store writes first
		runtimeWG.Wait()
		runtimeStopEnd := time.Now()
		b.logger.InfoContext(
			ctx,
			"finished handling in-flight events",
			"runtime_stop_duration", runtimeStopEnd.Sub(shutdownStart),
		)
		stopWG := &sync.WaitGroup{}

		if b.api != nil && b.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				b.logger.InfoContext(ctx, "stopping http server")
				_ = b.api.httpServer.Shutdown(closeCtx)
				b.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if b.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				b.logger.InfoContext(ctx, "closing discord session")
				_ = b.discord.session.Close()
				b.logger.InfoContext(ctx, "discord session closed")
				if n := len(b.discord.discordgoRemoveHandlerFuncs); n > 0 {
					b.logger.InfoContext(ctx, fmt.Sprintf("removing %d discord handlers", n))
					for _, h := range b.discord.discordgoRemoveHandlerFuncs {
						h()
					}
				}
			}()
		}

		go func() {
			stopWG.Wait()
			b.closeStore(ctx)
			gracefulShutdownCh <- struct{}{}
		}()
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			closeCancel()
			shutdownEnded := time.Now()
			b.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_ended", shutdownEnded,
				"shutdown_duration", shutdownEnded.Sub(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			b.logger.Warn(
				fmt.Sprintf(
					"time until hard shutdown: %s",
					time.Until(shutdownDeadline).String(),
				),
			)
		case <-closeCtx.Done():
			b.logger.Warn("handlers did not stop in time, forcing close")
			if b.api != nil {
				go func() {
					_ = b.api.httpServer.Close()
				}()
			}
			return fmt.Errorf("handlers did not stop in time")
		}
	}
}

func (*Bot) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(errors.New(v)), "stack_trace", stackTrace)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}

// InteractionHandler responds to a single discord interaction
type InteractionHandler interface {
	// Respond sends the initial response to the interaction
	Respond(ctx context.Context, r *discordgo.InteractionResponse) error

	// Followup sends an additional message after the initial response
	Followup(ctx context.Context, params *discordgo.WebhookParams) (*discordgo.Message, error)

	// Edit modifies the initial response
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// GetInteraction returns the original InteractionCreate event
	GetInteraction() *discordgo.InteractionCreate

	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions
// received over the gateway websocket
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(
		w.interaction.Interaction,
		response,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "responded to interaction")
	}
	return err
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	params *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(
		w.interaction.Interaction,
		true,
		params,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending followup", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(
		w.interaction.Interaction,
		wh,
		opts...,
	)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.InfoContext(ctx, "edited interaction")
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}
