package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/bunchuq1122/COL-BOT/colbot"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg        = colbot.DefaultConfig()
	configFile string
)

// legacyEnv maps config keys to the environment variables the bot was
// originally deployed with
var legacyEnv = map[string]string{
	"discord.token":                     "TOKEN",
	"discord.application_id":            "CLIENT_ID",
	"discord.guild_id":                  "GUILD_ID",
	"guild.manager_role":                "MANAGER",
	"guild.vote_perm_role":              "VOTE_PERM_ROLE",
	"guild.voting_channel_id":           "VOTING_CHANNEL_ID",
	"guild.forum_channel_id":            "FORUM_CHANNEL_ID",
	"guild.vote_announce_channel_id":    "VOTE_ANNOUNCE_CHANNEL_ID",
	"guild.voting_notification_role_id": "VOTING_NOTIFICATION",
	"guild.reaction_emoji":              "REACTION_EMOJI_ID",
	"guild.remove_thumbnail_url":        "REMOVE_THUMBNAIL_URL",
	"store.google.service_account_json": "GOOGLE_SERVICE_ACCOUNT",
	"store.google.document_id":          "GOOGLE_DOC_ID",
	"store.google.ranked_document_id":   "GOOGLE_RANKED_DOC_ID",
}

// keys that hold a *slog.LevelVar
var logLevelKeys = []string{
	"log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"store.log_level",
	"store.database.log_level",
	"api.log_level",
}

// keys that may be given as comma-separated env values
var stringSliceKeys = []string{
	"guild.verify_stages",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.allow_headers",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "colbot [flags]",
	Short: "Discord bot for voting on pending COOL levels",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := decodeConfig(viper.GetViper(), cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

func decodeConfig(v *viper.Viper, config *colbot.Config) error {
	return v.Unmarshal(
		config,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelToStringHookFunc(),
			),
		),
	)
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes level names like "warn" into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		if t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if err := loadConfig(viper.GetViper(), configFile); err != nil {
		log.Fatalf("error: %v", err)
	}
}

func envPrefix() string {
	if prefix := os.Getenv(colbot.EnvvarSetEnvPrefix); prefix != "" {
		return prefix
	}
	return colbot.DefaultEnvPrefix
}

// loadConfig loads envFile (or .env) into the environment, then sets
// defaults and env bindings on v
func loadConfig(v *viper.Viper, envFile string) error {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("error loading env file %q: %w", envFile, err)
	}

	prefix := envPrefix()
	setDefaults(v)

	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, legacy := range legacyEnv {
		envKey := prefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return err
		}
	}
	for _, key := range []string{
		"api.ssl.cert",
		"api.ssl.key",
		"store.google.service_account_file",
		"store.google.endpoint",
		"store.redis.url",
	} {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}

	if port := os.Getenv("PORT"); port != "" && os.Getenv(prefix+"_API_LISTEN") == "" {
		v.Set("api.listen", ":"+port)
	}
	if os.Getenv(prefix+"_STORE_BACKEND") == "" && v.GetString("store.google.document_id") != "" {
		v.Set("store.backend", "google_docs")
	}

	for _, key := range stringSliceKeys {
		if raw, ok := v.Get(key).(string); ok {
			v.Set(key, splitList([]string{raw}))
			continue
		}
		v.Set(key, splitList(v.GetStringSlice(key)))
	}

	for _, key := range logLevelKeys {
		if _, ok := v.Get(key).(*slog.LevelVar); ok {
			continue
		}
		lvl, err := levelStringToLevelVar(v.GetString(key))
		if err != nil {
			return fmt.Errorf("error parsing %s: %w", key, err)
		}
		v.Set(key, lvl)
	}
	return nil
}

// splitList flattens comma-separated entries, so both
// "a,b" and ["a", "b"] decode to the same slice
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, val := range values {
		for _, part := range strings.Split(val, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	d := colbot.DefaultConfig()

	v.SetDefault("log_level", colbot.DefaultLogLevel.String())
	v.SetDefault("startup_timeout", d.StartupTimeout)
	v.SetDefault("shutdown_timeout", d.ShutdownTimeout)

	// Discord config
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.application_id", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.log_level", colbot.DefaultDiscordLogLevel.String())
	v.SetDefault("discord.discordgo_log_level", colbot.DefaultDiscordgoLogLevel.String())
	v.SetDefault("discord.gateway_intents", d.Discord.GatewayIntents)
	v.SetDefault("discord.custom_status", d.Discord.CustomStatus)

	// Guild roles and channels
	v.SetDefault("guild.manager_role", "")
	v.SetDefault("guild.vote_perm_role", "")
	v.SetDefault("guild.voting_channel_id", "")
	v.SetDefault("guild.forum_channel_id", "")
	v.SetDefault("guild.vote_announce_channel_id", "")
	v.SetDefault("guild.voting_notification_role_id", "")
	v.SetDefault("guild.reaction_emoji", d.Guild.ReactionEmoji)
	v.SetDefault("guild.remove_thumbnail_url", "")
	v.SetDefault("guild.verify_stages", d.Guild.VerifyStages)

	// Store config
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.local_path", d.Store.LocalPath)
	v.SetDefault("store.log_level", colbot.DefaultStoreLogLevel.String())
	v.SetDefault("store.operation_timeout", d.Store.OperationTimeout)
	v.SetDefault("store.google.service_account_json", "")
	v.SetDefault("store.google.document_id", "")
	v.SetDefault("store.google.ranked_document_id", "")
	v.SetDefault("store.google.requests_per_second", d.Store.Google.RequestsPerSecond)
	v.SetDefault("store.redis.key", d.Store.Redis.Key)
	v.SetDefault("store.database.type", d.Store.Database.Type)
	v.SetDefault("store.database.dsn", d.Store.Database.DSN)
	v.SetDefault("store.database.document_name", d.Store.Database.DocumentName)
	v.SetDefault("store.database.log_level", colbot.DefaultDatabaseLogLevel.String())
	v.SetDefault("store.database.slow_threshold", d.Store.Database.SlowThreshold)

	// API config
	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.listen", d.API.Listen)
	v.SetDefault("api.listen_network", d.API.ListenNetwork)
	v.SetDefault("api.log_level", colbot.DefaultAPILogLevel.String())
	v.SetDefault("api.development", false)
	v.SetDefault("api.read_timeout", d.API.ReadTimeout)
	v.SetDefault("api.read_header_timeout", d.API.ReadHeaderTimeout)
	v.SetDefault("api.write_timeout", d.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	v.SetDefault("api.ssl.tls_min_version", d.API.SSL.TLSMinVersion)

	// API: CORS config
	v.SetDefault("api.cors.allow_origins", []string{})
	v.SetDefault("api.cors.allow_methods", colbot.DefaultCORSAllowMethods)
	v.SetDefault("api.cors.allow_headers", colbot.DefaultCORSAllowHeaders)
	v.SetDefault("api.cors.expose_headers", colbot.DefaultCORSExposeHeaders)
	v.SetDefault("api.cors.max_age", colbot.DefaultCORSMaxAge)
	v.SetDefault("api.cors.allow_credentials", colbot.DefaultAPICORSAllowCredentials)
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//nolint:gochecknoinits // cobra registration
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load config from",
	)
}
