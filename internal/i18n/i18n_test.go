package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, langs ...string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	loc := NewLocalizer(langs...)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "SessionNotFound")
	if got != "Session not found." {
		t.Errorf("T(SessionNotFound) = %q", got)
	}

	got = T(ctx, "IdentityExpired")
	if got != "Your session credential has expired. Start a new session." {
		t.Errorf("T(IdentityExpired) = %q", got)
	}
}

func TestTranslatePortuguese(t *testing.T) {
	ctx := initLang(t, "pt-BR")

	got := T(ctx, "SessionNotFound")
	if got != "Sessão não encontrada." {
		t.Errorf("T(SessionNotFound) = %q", got)
	}

	got = T(ctx, "Conflict")
	if got != "A sessão foi modificada simultaneamente. Tente novamente." {
		t.Errorf("T(Conflict) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "TurnsCompleted", 1)
	if got1 != "1 turn completed." {
		t.Errorf("Tp(TurnsCompleted, 1) = %q", got1)
	}

	got5 := Tp(ctx, "TurnsCompleted", 5)
	if got5 != "5 turns completed." {
		t.Errorf("Tp(TurnsCompleted, 5) = %q", got5)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "SessionNotFound")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "pt-BR")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "Sessão não encontrada." {
		t.Errorf("expected pt-BR translation, got %q", got)
	}

	// Without a header, the configured default wins.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Session not found." {
		t.Errorf("expected default-language translation, got %q", got)
	}
}
