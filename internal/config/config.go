package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultSystemPrompt = `Eres Elena, asistente virtual de Charlitron. Respondes en español, con frases cortas y cálidas.
Ayudas a agendar citas para los servicios: Consultoría Marketing, Perifoneo, Volanteo, Activación, Producción Visual u Otros.
Horario de atención: de 09:00 a 20:00, citas por hora completa.
Cuando el usuario confirme todos los datos de la cita, incluye en tu respuesta exactamente un objeto JSON:
{"agendar":true,"nombre":"...","email":"...","telefono":"...","fecha":"AAAA-MM-DD","hora":"HH:MM","servicio":"...","duracion":1}
Si todavía faltan datos o el usuario no quiere agendar, incluye {"agendar":false}.`

type Config struct {
	Server struct {
		Port          string
		LogLevel      string
		Env           string
		MaxSessions   int
		FormPerMinute int
	}
	Avatar struct {
		AllowedOrigins []string
		TokenSecret    string
		TokenTTLMin    int
		TokenSkewSecs  int
		AckTimeoutMS   int
		ConnectSecs    int
		InboundPerSec  float64
		InboundBurst   int
		AvatarName     string
		Language       string
	}
	LLM struct {
		APIKey          string
		Model           string
		SystemPrompt    string
		Temperature     float64
		MaxOutputTokens int
	}
	Agenda struct {
		OpenHour          int
		CloseHour         int
		SlotMinutes       int
		Timezone          string
		DefaultService    string
		DefaultDuration   int
		MaxDuration       int
		BookingWindowDays int
	}
	Database struct {
		URL      string
		MaxConns int
	}
	Redis struct {
		Addr           string
		Password       string
		DB             int
		SnapshotTTLMin int
	}
	Calendar struct {
		CredentialsFile string
		CalendarID      string
		SyncTimeoutSecs int
		SyncRetries     int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.max_sessions", 100)
	v.SetDefault("server.form_per_minute", 20)

	v.SetDefault("avatar.allowed_origins", "https://labs.heygen.com,http://localhost:5173")
	v.SetDefault("avatar.token_ttl_min", 60)
	v.SetDefault("avatar.token_skew_secs", 30)
	v.SetDefault("avatar.ack_timeout_ms", 10000)
	v.SetDefault("avatar.connect_secs", 30)
	v.SetDefault("avatar.inbound_per_sec", 20)
	v.SetDefault("avatar.inbound_burst", 40)
	v.SetDefault("avatar.name", "Elenora_IT_Sitting_public")
	v.SetDefault("avatar.language", "es")

	v.SetDefault("llm.model", "gemini-2.5-flash")
	v.SetDefault("llm.system_prompt", defaultSystemPrompt)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_output_tokens", 300)

	v.SetDefault("agenda.open_hour", 9)
	v.SetDefault("agenda.close_hour", 20)
	v.SetDefault("agenda.slot_minutes", 60)
	v.SetDefault("agenda.timezone", "America/Mexico_City")
	v.SetDefault("agenda.default_service", "Consultoría Marketing")
	v.SetDefault("agenda.default_duration", 1)
	v.SetDefault("agenda.max_duration", 6)
	v.SetDefault("agenda.booking_window_days", 7)

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.snapshot_ttl_min", 1440)

	v.SetDefault("calendar.calendar_id", "primary")
	v.SetDefault("calendar.sync_timeout_secs", 20)
	v.SetDefault("calendar.sync_retries", 3)

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.env", "APP_ENV")
	v.BindEnv("server.max_sessions", "MAX_SESSIONS")
	v.BindEnv("server.form_per_minute", "FORM_RATE_PER_MINUTE")

	v.BindEnv("avatar.allowed_origins", "ALLOWED_ORIGINS")
	v.BindEnv("avatar.token_secret", "CLIENT_TOKEN_SECRET")
	v.BindEnv("avatar.token_ttl_min", "CLIENT_TOKEN_TTL_MIN")
	v.BindEnv("avatar.token_skew_secs", "CLIENT_TOKEN_SKEW_SECS")
	v.BindEnv("avatar.ack_timeout_ms", "AVATAR_ACK_TIMEOUT_MS")
	v.BindEnv("avatar.connect_secs", "AVATAR_CONNECT_SECS")
	v.BindEnv("avatar.inbound_per_sec", "AVATAR_INBOUND_PER_SEC")
	v.BindEnv("avatar.inbound_burst", "AVATAR_INBOUND_BURST")
	v.BindEnv("avatar.name", "AVATAR_NAME")
	v.BindEnv("avatar.language", "AVATAR_LANGUAGE")

	v.BindEnv("llm.api_key", "GEMINI_API_KEY")
	v.BindEnv("llm.model", "GEMINI_MODEL")
	v.BindEnv("llm.system_prompt", "LLM_SYSTEM_PROMPT")
	v.BindEnv("llm.temperature", "LLM_TEMPERATURE")
	v.BindEnv("llm.max_output_tokens", "LLM_MAX_OUTPUT_TOKENS")

	v.BindEnv("agenda.open_hour", "AGENDA_OPEN_HOUR")
	v.BindEnv("agenda.close_hour", "AGENDA_CLOSE_HOUR")
	v.BindEnv("agenda.slot_minutes", "AGENDA_SLOT_MINUTES")
	v.BindEnv("agenda.timezone", "AGENDA_TIMEZONE")
	v.BindEnv("agenda.default_service", "AGENDA_DEFAULT_SERVICE")
	v.BindEnv("agenda.default_duration", "AGENDA_DEFAULT_DURATION")
	v.BindEnv("agenda.max_duration", "AGENDA_MAX_DURATION")
	v.BindEnv("agenda.booking_window_days", "AGENDA_BOOKING_WINDOW_DAYS")

	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("database.max_conns", "DATABASE_MAX_CONNS")

	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.snapshot_ttl_min", "REDIS_SNAPSHOT_TTL_MIN")

	v.BindEnv("calendar.credentials_file", "GOOGLE_CALENDAR_CREDENTIALS")
	v.BindEnv("calendar.calendar_id", "GOOGLE_CALENDAR_ID")
	v.BindEnv("calendar.sync_timeout_secs", "CALENDAR_SYNC_TIMEOUT_SECS")
	v.BindEnv("calendar.sync_retries", "CALENDAR_SYNC_RETRIES")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.Env = v.GetString("server.env")
	c.Server.MaxSessions = v.GetInt("server.max_sessions")
	c.Server.FormPerMinute = v.GetInt("server.form_per_minute")

	c.Avatar.AllowedOrigins = splitList(v.GetString("avatar.allowed_origins"))
	c.Avatar.TokenSecret = v.GetString("avatar.token_secret")
	c.Avatar.TokenTTLMin = v.GetInt("avatar.token_ttl_min")
	c.Avatar.TokenSkewSecs = v.GetInt("avatar.token_skew_secs")
	c.Avatar.AckTimeoutMS = v.GetInt("avatar.ack_timeout_ms")
	c.Avatar.ConnectSecs = v.GetInt("avatar.connect_secs")
	c.Avatar.InboundPerSec = v.GetFloat64("avatar.inbound_per_sec")
	c.Avatar.InboundBurst = v.GetInt("avatar.inbound_burst")
	c.Avatar.AvatarName = v.GetString("avatar.name")
	c.Avatar.Language = v.GetString("avatar.language")

	c.LLM.APIKey = v.GetString("llm.api_key")
	c.LLM.Model = v.GetString("llm.model")
	c.LLM.SystemPrompt = v.GetString("llm.system_prompt")
	c.LLM.Temperature = v.GetFloat64("llm.temperature")
	c.LLM.MaxOutputTokens = v.GetInt("llm.max_output_tokens")

	c.Agenda.OpenHour = v.GetInt("agenda.open_hour")
	c.Agenda.CloseHour = v.GetInt("agenda.close_hour")
	c.Agenda.SlotMinutes = v.GetInt("agenda.slot_minutes")
	c.Agenda.Timezone = v.GetString("agenda.timezone")
	c.Agenda.DefaultService = v.GetString("agenda.default_service")
	c.Agenda.DefaultDuration = v.GetInt("agenda.default_duration")
	c.Agenda.MaxDuration = v.GetInt("agenda.max_duration")
	c.Agenda.BookingWindowDays = v.GetInt("agenda.booking_window_days")

	c.Database.URL = v.GetString("database.url")
	c.Database.MaxConns = v.GetInt("database.max_conns")

	c.Redis.Addr = v.GetString("redis.addr")
	c.Redis.Password = v.GetString("redis.password")
	c.Redis.DB = v.GetInt("redis.db")
	c.Redis.SnapshotTTLMin = v.GetInt("redis.snapshot_ttl_min")

	c.Calendar.CredentialsFile = v.GetString("calendar.credentials_file")
	c.Calendar.CalendarID = v.GetString("calendar.calendar_id")
	c.Calendar.SyncTimeoutSecs = v.GetInt("calendar.sync_timeout_secs")
	c.Calendar.SyncRetries = v.GetInt("calendar.sync_retries")

	return c
}

// Validate is run once at startup; a failing config never reaches first use.
func (c Config) Validate() error {
	var errs []error
	if c.LLM.APIKey == "" {
		errs = append(errs, errors.New("GEMINI_API_KEY is required"))
	}
	if c.Avatar.TokenSecret == "" {
		errs = append(errs, errors.New("CLIENT_TOKEN_SECRET is required"))
	}
	if len(c.Avatar.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("ALLOWED_ORIGINS must list at least one origin"))
	}
	if c.Avatar.AckTimeoutMS <= 0 {
		errs = append(errs, errors.New("AVATAR_ACK_TIMEOUT_MS must be positive"))
	}
	a := c.Agenda
	if a.OpenHour < 0 || a.CloseHour > 24 || a.OpenHour >= a.CloseHour {
		errs = append(errs, fmt.Errorf("business hours %d-%d are invalid", a.OpenHour, a.CloseHour))
	}
	if a.SlotMinutes <= 0 || 60%a.SlotMinutes != 0 {
		errs = append(errs, fmt.Errorf("AGENDA_SLOT_MINUTES=%d must divide 60", a.SlotMinutes))
	}
	if a.DefaultDuration < 1 || a.MaxDuration < a.DefaultDuration {
		errs = append(errs, fmt.Errorf("durations default=%d max=%d are invalid", a.DefaultDuration, a.MaxDuration))
	}
	if a.BookingWindowDays < 1 {
		errs = append(errs, errors.New("AGENDA_BOOKING_WINDOW_DAYS must be at least 1"))
	}
	if _, err := time.LoadLocation(a.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("AGENDA_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

// Location returns the agenda timezone; call after Validate.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Agenda.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func toString(v any) string { return fmt.Sprint(v) }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
