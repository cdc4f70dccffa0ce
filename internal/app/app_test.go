package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/ChatBilling/internal/config"
	"github.com/router-for-me/ChatBilling/internal/db"
	"github.com/router-for-me/ChatBilling/internal/llm"
	"github.com/router-for-me/ChatBilling/internal/models"
	"github.com/router-for-me/ChatBilling/internal/security"
)

func writeConfig(t *testing.T, body string) config.AppConfig {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return config.AppConfig{ConfigPath: configPath}
}

func TestBuildGateway(t *testing.T) {
	router, err := BuildGateway(config.LLMConfig{
		Default: "local",
		Providers: []config.LLMProvider{
			{Name: "local", Type: config.ProviderTypeLoopback},
			{Name: "remote", Type: config.ProviderTypeOpenAI, APIKey: "k", BaseURL: "http://127.0.0.1:1", ModelPrefixes: []string{"gpt"}},
		},
	})
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}
	completion, err := router.Complete(context.Background(), llm.Request{
		Model:    "Doubao-pro",
		Messages: []llm.Message{{Role: "user", Content: "ping"}},
	})
	if err != nil || completion.Text != "[loopback] ping" {
		t.Fatalf("expected loopback fallback, got %+v (err=%v)", completion, err)
	}

	if _, err = BuildGateway(config.LLMConfig{Default: "missing", Providers: []config.LLMProvider{{Name: "local", Type: config.ProviderTypeLoopback}}}); err == nil {
		t.Fatalf("expected unknown default provider to fail")
	}
	if _, err = BuildGateway(config.LLMConfig{Default: "remote", Providers: []config.LLMProvider{{Name: "remote", Type: config.ProviderTypeOpenAI}}}); err == nil {
		t.Fatalf("expected openai provider without key to fail")
	}
	if _, err = BuildGateway(config.LLMConfig{Default: "a", Providers: []config.LLMProvider{
		{Name: "a", Type: config.ProviderTypeLoopback},
		{Name: "a", Type: config.ProviderTypeLoopback},
	}}); err == nil {
		t.Fatalf("expected duplicate provider names to fail")
	}
}

func TestHasAdmin(t *testing.T) {
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })

	if ok, errAdmin := HasAdmin(conn); errAdmin != nil || ok {
		t.Fatalf("expected no admin before migrate, got %v (err=%v)", ok, errAdmin)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	user := models.User{OpenID: "boss", Role: models.UserRoleAdmin, LastSignedInAt: time.Now().UTC()}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create admin: %v", errCreate)
	}
	if ok, errAdmin := HasAdmin(conn); errAdmin != nil || !ok {
		t.Fatalf("expected admin after insert, got %v (err=%v)", ok, errAdmin)
	}
}

func TestMigrateAndIssueToken(t *testing.T) {
	t.Setenv(config.EnvDBConnection, "")
	t.Setenv(config.EnvJWTSecret, "")
	t.Setenv(config.EnvJWTExpiry, "")
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	cfg := writeConfig(t, fmt.Sprintf("database:\n  dsn: file:%s\njwt:\n  secret: s3cret\n  expiry: 1h\n", dbPath))

	if err := Migrate(context.Background(), cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected database file: %v", err)
	}

	token, err := IssueToken(cfg, security.Identity{OpenID: "ops", Name: "Ops"})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	id, err := security.ParseIdentityToken("s3cret", token)
	if err != nil || id.OpenID != "ops" || id.Name != "Ops" {
		t.Fatalf("unexpected identity %+v (err=%v)", id, err)
	}

	if _, err = IssueToken(writeConfig(t, "database:\n  dsn: file:x.db\n"), security.Identity{OpenID: "ops"}); !errors.Is(err, ErrMissingJWTSecret) {
		t.Fatalf("expected ErrMissingJWTSecret, got %v", err)
	}
}

func TestNewEngine_Routes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn, err := db.Open("file:" + filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(conn) })
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	gateway, err := BuildGateway(config.LLMConfig{Default: "local", Providers: []config.LLMProvider{{Name: "local", Type: config.ProviderTypeLoopback}}})
	if err != nil {
		t.Fatalf("build gateway: %v", err)
	}
	svc, err := newServices(conn, config.JWTConfig{Secret: "s", Expiry: time.Hour}, config.ServerConfig{APIKeyPepper: "p"}, config.CatalogConfig{}, gateway)
	if err != nil {
		t.Fatalf("new services: %v", err)
	}
	if svc.syncer != nil {
		t.Fatalf("expected no syncer without catalog url")
	}
	engine := newEngine(svc)

	cases := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/v0/front/profile", http.StatusUnauthorized},
		{http.MethodGet, "/v0/admin/users", http.StatusUnauthorized},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.status {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rec.Code)
		}
		if tc.path != "/healthz" && !strings.Contains(rec.Body.String(), `"kind"`) {
			t.Fatalf("%s: expected error kind in body, got %s", tc.path, rec.Body.String())
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Fatalf("%s: expected request id header", tc.path)
		}
	}
}
