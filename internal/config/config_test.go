package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithKey(t *testing.T) {
	cfg, err := Load([]string{"--jwt.key=secret"})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, MailSMTP, cfg.Mail.Mode)
	require.Equal(t, 5, cfg.OTP.MaxMismatches)
	require.False(t, cfg.Reset.MaskNotFound)
	require.Equal(t, 2*time.Hour, cfg.Session.TTL)
	require.True(t, cfg.Session.SecureCookie)
}

func TestLoad_MissingKeyAndBadMode(t *testing.T) {
	_, err := Load([]string{"--mail.mode=pigeon"})
	require.ErrorContains(t, err, "jwt.key is required")
	require.ErrorContains(t, err, `mail.mode "pigeon"`)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	t.Setenv("CAFE_JWT_KEY", "from-env")
	t.Setenv("CAFE_MAIL_MODE", "SMTP")
	t.Setenv("CAFE_OTP_MAX_MISMATCHES", "0")

	cfg, err := Load(nil)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.JWT.Key)
	require.Equal(t, MailSMTP, cfg.Mail.Mode)
	require.Zero(t, cfg.OTP.MaxMismatches)
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	t.Setenv("CAFE_HTTP_ADDR", ":1111")
	cfg, err := Load([]string{"--jwt.key=k", "--http.addr=:2222"})
	require.NoError(t, err)
	require.Equal(t, ":2222", cfg.HTTPAddr)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cafe.yaml")
	body := "jwt:\n  key: file-key\nreset:\n  mask_not_found: true\nsmtp:\n  port: 2525\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	cfg, err := Load([]string{"--config=" + p})
	require.NoError(t, err)
	require.Equal(t, "file-key", cfg.JWT.Key)
	require.True(t, cfg.Reset.MaskNotFound)
	require.Equal(t, 2525, cfg.SMTP.Port)

	_, err = Load([]string{"--config=" + filepath.Join(dir, "missing.yaml")})
	require.Error(t, err)
}

func TestLoad_LogMailRequiresDev(t *testing.T) {
	_, err := Load([]string{"--jwt.key=k", "--mail.mode=log"})
	require.ErrorContains(t, err, "only allowed with --dev")

	cfg, err := Load([]string{"--jwt.key=k", "--mail.mode=log", "--dev"})
	require.NoError(t, err)
	require.Equal(t, MailLog, cfg.Mail.Mode)
}
