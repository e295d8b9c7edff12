package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/chadiek/homesync-voice/internal/persona"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress     string
	LogLevel        string
	LogPretty       bool
	ControlPassword string

	GeminiAPIKey string
	LiveModel    string
	LiveVoice    string

	CaptureBlockSize int
	InputSampleRate  int
	OutputSampleRate int
	PlaybackBufferMS int

	DefaultUser     string
	DefaultLanguage string
	PersonasFile    string
	ContactsFile    string

	TwilioAccountSID     string
	TwilioAuthToken      string
	TwilioPhoneNumber    string
	TwilioWhatsAppNumber string
	PublicBaseURL        string

	SupabaseURL           string
	SupabaseKey           string
	SupabaseBucket        string
	SupabaseContactsTable string

	// Warnings lists degraded features, to be logged once the logger exists.
	Warnings []string
}

// Load reads .env (if present) and the environment, applying defaults.
func Load() Config {
	var c Config
	if err := godotenv.Load(); err != nil {
		c.warn("no .env file loaded")
	}

	c.HTTPAddress = envOr("HTTP_ADDRESS", ":8080")
	c.LogLevel = envOr("LOG_LEVEL", "info")
	c.LogPretty = c.envBool("LOG_PRETTY", false)
	c.ControlPassword = os.Getenv("CONTROL_PASSWORD")

	c.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if c.GeminiAPIKey == "" {
		c.warn("GEMINI_API_KEY not set - voice sessions will fail to open")
	}
	c.LiveModel = envOr("GEMINI_LIVE_MODEL", "gemini-2.5-flash-native-audio-preview-09-2025")
	c.LiveVoice = os.Getenv("GEMINI_VOICE")

	c.CaptureBlockSize = c.envInt("CAPTURE_BLOCK_SIZE", 4096)
	c.InputSampleRate = c.envInt("INPUT_SAMPLE_RATE", 16000)
	c.OutputSampleRate = c.envInt("OUTPUT_SAMPLE_RATE", 24000)
	c.PlaybackBufferMS = c.envInt("PLAYBACK_BUFFER_MS", 40)

	c.DefaultUser = envOr("DEFAULT_USER", "Usuário")
	c.DefaultLanguage = envOr("DEFAULT_LANGUAGE", "pt-BR")
	c.PersonasFile = os.Getenv("PERSONAS_FILE")
	c.ContactsFile = os.Getenv("CONTACTS_FILE")

	c.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	c.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.TwilioPhoneNumber = os.Getenv("TWILIO_PHONE_NUMBER")
	c.TwilioWhatsAppNumber = os.Getenv("TWILIO_WHATSAPP_NUMBER")
	c.PublicBaseURL = strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/")
	if !c.TwilioConfigured() {
		c.warn("Twilio credentials not set - calls and messages run in simulated mode")
	}

	c.SupabaseURL = os.Getenv("SUPABASE_URL")
	c.SupabaseKey = os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	c.SupabaseBucket = envOr("SUPABASE_BUCKET", "voice-transcripts")
	c.SupabaseContactsTable = envOr("SUPABASE_CONTACTS_TABLE", "contacts")
	if !c.SupabaseConfigured() {
		c.warn("Supabase not configured - contacts come from CONTACTS_FILE and transcripts are not archived")
	}
	return c
}

// TwilioConfigured reports whether real telephony is available.
func (c Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioPhoneNumber != ""
}

func (c Config) SupabaseConfigured() bool {
	return c.SupabaseURL != "" && c.SupabaseKey != ""
}

// StatusCallbackURL is where Twilio posts call progress, empty without a public URL.
func (c Config) StatusCallbackURL() string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return c.PublicBaseURL + "/twilio/status"
}

// Validate rejects values the audio path cannot work with.
func (c Config) Validate() error {
	var errs []error
	if c.CaptureBlockSize <= 0 {
		errs = append(errs, fmt.Errorf("CAPTURE_BLOCK_SIZE must be positive, got %d", c.CaptureBlockSize))
	}
	if c.InputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("INPUT_SAMPLE_RATE must be positive, got %d", c.InputSampleRate))
	}
	if c.OutputSampleRate <= 0 {
		errs = append(errs, fmt.Errorf("OUTPUT_SAMPLE_RATE must be positive, got %d", c.OutputSampleRate))
	}
	if c.PlaybackBufferMS < 0 {
		errs = append(errs, fmt.Errorf("PLAYBACK_BUFFER_MS must not be negative, got %d", c.PlaybackBufferMS))
	}
	if !persona.SupportedLanguage(c.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("DEFAULT_LANGUAGE %q is not supported", c.DefaultLanguage))
	}
	return errors.Join(errs...)
}

func (c *Config) warn(msg string) { c.Warnings = append(c.Warnings, msg) }

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (c *Config) envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		c.warn(fmt.Sprintf("%s=%q is not a number, using %d", key, v, def))
		return def
	}
	return n
}

func (c *Config) envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		c.warn(fmt.Sprintf("%s=%q is not a boolean, using %t", key, v, def))
		return def
	}
	return b
}
