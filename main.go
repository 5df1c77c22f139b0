// Package main provides the entry point for the osay CLI.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/osay/internal/audio"
	"github.com/dgnsrekt/osay/internal/cache"
	"github.com/dgnsrekt/osay/internal/replay"
	"github.com/dgnsrekt/osay/internal/tts"
	"github.com/dgnsrekt/osay/internal/tts/engines"
	homedir "github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile     string
	textFile       string
	outputFile     string
	voice          string
	instructions   string
	noInstructions bool
	formatName     string
	streamMode     bool
	noCache        bool
	forceLocal     bool
	forceRemote    bool
	listCached     bool
	playCached     string
	playPrev       bool
	debug          bool

	rootCmd = &cobra.Command{
		Use:   "osay [TEXT]",
		Short: "Speak text aloud, with OpenAI or the local synthesizer",
		Long: paragraph(
			fmt.Sprintf("\nConvert text to speech with the OpenAI API, falling back to the macOS %s command, and %s recent audio for instant replay.", keyword("say"), keyword("cache")),
		),
		Example:       paragraph("osay \"Hello there\"\necho hi | osay\nosay -v nova --format wav \"Hello\"\nosay --play-cached"),
		SilenceErrors: false,
		SilenceUsage:  true,
		Args:          cobra.MaximumNArgs(1),
		RunE:          execute,
	}
)

// envOverrides are read once at startup. The environment wins over the
// config file for the credential and the cache location.
type envOverrides struct {
	APIKey   string `env:"OPENAI_API_KEY"`
	BaseURL  string `env:"OPENAI_BASE_URL"`
	CacheDir string `env:"OSAY_CACHE_DIR"`
}

func execute(cmd *cobra.Command, args []string) error {
	if debug || viper.GetBool("debug") {
		log.SetLevel(log.DebugLevel)
	}

	// Bound flags fall back to the config file values.
	voice = viper.GetString("voice")
	formatName = viper.GetString("format")

	if err := checkFlagConflicts(cmd); err != nil {
		return err
	}

	overrides, err := env.ParseAs[envOverrides]()
	if err != nil {
		return fmt.Errorf("unable to parse environment: %w", err)
	}

	ctx := cmd.Context()
	player := audio.NewExecPlayer()

	// Replay intents work straight off the cache, no backend needed.
	if listCached || playPrev || cmd.Flags().Changed("play-cached") {
		store, err := openStore(overrides)
		if err != nil {
			return err
		}
		resolver := replay.NewResolver(store, player)
		switch {
		case listCached:
			return resolver.WriteList(os.Stdout)
		case playPrev:
			return resolver.PlayLatest(ctx)
		case playCached == pickSentinel:
			return resolver.PickAndPlay(ctx)
		default:
			return resolver.PlayID(ctx, playCached)
		}
	}

	credential := tts.Credential{
		APIKey: firstNonEmpty(overrides.APIKey, viper.GetString("openai.api_key")),
	}
	backend, err := tts.SelectBackend(credential, selectionOverride())
	if err != nil {
		return err
	}
	log.Debug("selected backend", "backend", backend)

	if streamMode && backend != tts.BackendRemote {
		return fmt.Errorf("%w: streaming requires the OpenAI backend", tts.ErrCredentialMissing)
	}

	engine := buildEngine(backend, credential, overrides)

	if voice == "?" {
		return printVoices(cmd, engine)
	}

	format, err := resolveFormat(cmd, backend)
	if err != nil {
		return err
	}

	text, err := gatherText(args)
	if err != nil {
		return err
	}

	req := tts.Request{
		Text:         text,
		Voice:        voice,
		Instructions: resolveInstructions(cmd),
		Format:       format,
	}

	switch {
	case streamMode:
		controller := tts.NewController(engine, nil, audio.NewStreamSink(player))
		return controller.Stream(ctx, req)

	case outputFile != "":
		controller := tts.NewController(engine, nil, player)
		return controller.SaveTo(ctx, req, outputFile)

	default:
		var store *cache.Store
		if !noCache {
			store, err = openStore(overrides)
			if err != nil {
				// A broken cache directory must not stop the audio.
				log.Warn("cache unavailable, playing uncached", "err", err)
				store = nil
			}
		}
		controller := tts.NewController(engine, store, player)
		return controller.Speak(ctx, req)
	}
}

// pickSentinel is what --play-cached carries when given no identifier.
// Identifiers are hex, so it can never collide with a real one.
const pickSentinel = "?"

func checkFlagConflicts(cmd *cobra.Command) error {
	if forceLocal && forceRemote {
		return errors.New("cannot use both --local and --remote")
	}
	if streamMode && outputFile != "" {
		return errors.New("cannot use --stream with --output: a stream is played, not saved")
	}
	if streamMode && forceLocal {
		return errors.New("cannot use --stream with --local: only the OpenAI backend streams")
	}
	if outputFile != "" && cmd.Flags().Changed("no-cache") {
		log.Debug("--no-cache is implied by --output")
	}
	return nil
}

func selectionOverride() tts.Override {
	switch {
	case forceLocal:
		return tts.OverrideLocal
	case forceRemote:
		return tts.OverrideRemote
	default:
		return tts.OverrideNone
	}
}

func buildEngine(backend tts.Backend, credential tts.Credential, overrides envOverrides) tts.Engine {
	if backend == tts.BackendRemote {
		return engines.NewOpenAI(engines.OpenAIConfig{
			APIKey:            credential.APIKey,
			BaseURL:           firstNonEmpty(overrides.BaseURL, viper.GetString("openai.base_url")),
			Model:             viper.GetString("openai.model"),
			Timeout:           viper.GetDuration("openai.timeout"),
			RequestsPerMinute: viper.GetInt("openai.requests_per_minute"),
		})
	}
	return engines.NewSay(engines.SayConfig{
		Timeout: viper.GetDuration("say.timeout"),
	})
}

// resolveFormat validates the requested format and, for the local
// backend, coerces it to a format the synthesizer can write.
func resolveFormat(cmd *cobra.Command, backend tts.Backend) (tts.Format, error) {
	format, err := tts.ParseFormat(formatName)
	if err != nil {
		return "", err
	}
	if backend == tts.BackendLocal {
		return engines.CoerceSayFormat(format, cmd.Flags().Changed("format"))
	}
	return format, nil
}

// resolveInstructions applies the configured default unless the user
// supplied instructions or disabled them outright.
func resolveInstructions(cmd *cobra.Command) string {
	if noInstructions {
		return ""
	}
	if cmd.Flags().Changed("instructions") {
		return instructions
	}
	return viper.GetString("instructions")
}

// gatherText finds the text to speak: the argument, a file, or piped
// stdin, in that order.
func gatherText(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if textFile != "" {
		raw, err := os.ReadFile(textFile)
		if err != nil {
			return "", fmt.Errorf("unable to read text file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	if piped, err := stdinIsPipe(); err != nil {
		return "", err
	} else if piped {
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("unable to read stdin: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return "", fmt.Errorf("%w: pass TEXT, use --file, or pipe text in", tts.ErrEmptyText)
}

func stdinIsPipe() (bool, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		return false, nil
	}
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to stat stdin: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

func printVoices(cmd *cobra.Command, engine tts.Engine) error {
	voices, err := engine.Voices(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Available voices (%s):\n", engine.Name())
	for _, v := range voices {
		fmt.Println("  " + v)
	}
	return nil
}

// openStore resolves the cache directory (env, config, then the default
// under the home directory) and opens the store there.
func openStore(overrides envOverrides) (*cache.Store, error) {
	dir := firstNonEmpty(overrides.CacheDir, viper.GetString("cache.dir"))
	if dir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return nil, fmt.Errorf("unable to locate home directory: %w", err)
		}
		dir = filepath.Join(home, ".osay", "audios")
	} else {
		expanded, err := homedir.Expand(dir)
		if err != nil {
			return nil, fmt.Errorf("unable to expand cache directory: %w", err)
		}
		dir = expanded
	}
	return cache.Open(dir, viper.GetInt("cache.max_entries"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func setupLog() (func() error, error) {
	log.SetReportTimestamp(false)
	if logFile := os.Getenv("OSAY_LOGFILE"); logFile != "" {
		f, err := os.OpenFile(logFile, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o600) //nolint:gosec
		if err != nil {
			return nil, fmt.Errorf("error setting up log: %w", err)
		}
		log.SetOutput(f)
		log.SetReportTimestamp(true)
		return f.Close, nil
	}
	log.SetOutput(os.Stderr)
	return func() error { return nil }, nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		switch {
		case errors.Is(err, tts.ErrCredentialMissing):
			fmt.Fprintln(os.Stderr, "Set OPENAI_API_KEY (or openai.api_key in the config) to use the OpenAI backend.")
		case errors.Is(err, audio.ErrPlayerUnavailable):
			fmt.Fprintln(os.Stderr, "Install ffmpeg (for ffplay) or mpv, or use --output to save the audio instead.")
		}
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.Flags().StringVarP(&textFile, "file", "f", "", "read text from a file")
	rootCmd.Flags().StringVarP(&outputFile, "output", "o", "", "write audio to a file instead of speaking")
	rootCmd.Flags().StringVarP(&voice, "voice", "v", "", "voice to use ('?' lists the backend's voices)")
	rootCmd.Flags().StringVar(&instructions, "instructions", "", "speech style instructions (OpenAI only)")
	rootCmd.Flags().BoolVar(&noInstructions, "no-instructions", false, "disable the default speech style instructions")
	rootCmd.Flags().StringVar(&formatName, "format", "", "audio format: mp3, opus, aac, flac, wav, pcm (OpenAI only)")
	rootCmd.Flags().BoolVar(&streamMode, "stream", false, "play audio while it is being synthesized (OpenAI only, never cached)")
	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "play without writing to the cache")
	rootCmd.Flags().BoolVar(&forceLocal, "local", false, "force the local say backend")
	rootCmd.Flags().BoolVar(&forceRemote, "remote", false, "require the OpenAI backend, never fall back")
	rootCmd.Flags().BoolVar(&listCached, "list-cached", false, "list cached audio")
	rootCmd.Flags().StringVar(&playCached, "play-cached", "", "play cached audio by ID prefix (without ID: pick with fzf)")
	rootCmd.Flags().BoolVarP(&playPrev, "prev", "p", false, "replay the most recent cached audio")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "debug logging")

	// --play-cached may appear bare; the sentinel routes it to the picker.
	rootCmd.Flags().Lookup("play-cached").NoOptDefVal = pickSentinel

	_ = viper.BindPFlag("voice", rootCmd.Flags().Lookup("voice"))
	_ = viper.BindPFlag("format", rootCmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("debug", rootCmd.Flags().Lookup("debug"))

	viper.SetDefault("voice", "")
	viper.SetDefault("format", string(tts.DefaultFormat))
	viper.SetDefault("instructions", tts.DefaultInstructions)
	viper.SetDefault("debug", false)
	viper.SetDefault("cache.dir", "")
	viper.SetDefault("cache.max_entries", cache.DefaultCapacity)
	viper.SetDefault("openai.api_key", "")
	viper.SetDefault("openai.base_url", "https://api.openai.com")
	viper.SetDefault("openai.model", "gpt-4o-mini-tts")
	viper.SetDefault("openai.timeout", "60s")
	viper.SetDefault("openai.requests_per_minute", 30)
	viper.SetDefault("say.timeout", "60s")

	rootCmd.AddCommand(configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "osay")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "osay")}, dirs...)
	}

	if c := os.Getenv("OSAY_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("osay")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("osay")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "osay.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
