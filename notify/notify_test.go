package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestEscapeMarkdownV2(t *testing.T) {
	// WHAT: Every MarkdownV2 reserved character is escaped.
	// WHY: Telegram rejects the whole message on a stray reserved character.
	got := EscapeMarkdownV2("a_b*c[d](e)~`>#+-=|{}.!\\")
	want := `a\_b\*c\[d\]\(e\)\~\` + "`" + `\>\#\+\-\=\|\{\}\.\!\\`
	if got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
	if EscapeMarkdownV2("Inflación 2024") != "Inflación 2024" {
		t.Error("plain text must be untouched")
	}
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"<b>Datos</b> abiertos":      "Datos abiertos",
		"Tom &amp; Jerry":            "Tom & Jerry",
		"<script>x()</script>Limpio": "Limpio",
		"  varios \n\t espacios  ":   "varios espacios",
	}
	for in, want := range cases {
		if got := Sanitize(in); got != want {
			t.Errorf("Sanitize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLink(t *testing.T) {
	got := Link("Serie (mensual)", "https://x.gob.ar/a_(b).csv")
	want := `[Serie \(mensual\)](https://x.gob.ar/a_(b\).csv)`
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestTelegram_SendsPerRecipient(t *testing.T) {
	// WHAT: One sendMessage per recipient; failures are joined, not fatal.
	// WHY: A user who blocked the bot must not stop delivery to others.
	var mu sync.Mutex
	var got []sendMessageRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		got = append(got, req)
		path = r.URL.Path
		mu.Unlock()
		if req.ChatID == 2 {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg, err := NewTelegram(TelegramConfig{Token: "123:abc", APIBase: srv.URL}, nil)
	if err != nil {
		t.Fatal(err)
	}
	err = tg.Notify(context.Background(), []int64{1, 2, 3}, "hola")

	var se *SendError
	if !errors.As(err, &se) || se.Recipient != 2 || se.Channel != "telegram" {
		t.Fatalf("err: %v", err)
	}
	if !strings.Contains(err.Error(), "blocked") {
		t.Errorf("error text: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("requests: got %d, want 3", len(got))
	}
	if got[0].ParseMode != "MarkdownV2" || got[0].Text != "hola" {
		t.Errorf("request: %+v", got[0])
	}
	if path != "/bot123:abc/sendMessage" {
		t.Errorf("path: %s", path)
	}
}

func TestTelegram_RetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	tg, _ := NewTelegram(TelegramConfig{Token: "t", APIBase: srv.URL}, nil)
	if err := tg.Notify(context.Background(), []int64{9}, "x"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls: got %d, want 2", calls.Load())
	}
}

func TestTelegram_RequiresToken(t *testing.T) {
	if _, err := NewTelegram(TelegramConfig{}, nil); err == nil {
		t.Error("expected an error without token")
	}
}

func TestWebhook_RetryThenSuccess(t *testing.T) {
	// WHAT: A 5xx is retried with backoff until a 2xx arrives.
	// WHY: Receivers restart; a single blip must not drop a notification.
	var calls atomic.Int32
	var body Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := wh.Notify(context.Background(), []int64{4, 5}, "nuevo"); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d", calls.Load())
	}
	if body.Text != "nuevo" || len(body.Recipients) != 2 {
		t.Errorf("body: %+v", body)
	}
}

func TestWebhook_Exhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, WithWebhookRetries(1), WithWebhookBackoff(time.Millisecond))
	err := wh.Notify(context.Background(), []int64{1}, "x")
	var se *SendError
	if !errors.As(err, &se) || se.Channel != "webhook" {
		t.Fatalf("err: %v", err)
	}
}

type recorder struct {
	calls int
	err   error
}

func (r *recorder) Notify(context.Context, []int64, string) error { r.calls++; return r.err }
func (r *recorder) Close() error { return nil }

func TestRouter_FansOutAndJoins(t *testing.T) {
	// WHAT: Every channel is tried; failures are joined.
	// WHY: Webhook outages must not silence Telegram.
	boom := errors.New("boom")
	a, b, c := &recorder{}, &recorder{err: boom}, &recorder{}
	r := NewRouter(nil, a, b, c)

	err := r.Notify(context.Background(), []int64{1}, "x")
	if !errors.Is(err, boom) {
		t.Errorf("err: %v", err)
	}
	if a.calls != 1 || b.calls != 1 || c.calls != 1 {
		t.Errorf("calls: %d %d %d", a.calls, b.calls, c.calls)
	}

	if err := r.Notify(context.Background(), nil, "x"); err != nil || a.calls != 1 {
		t.Error("no recipients must be a no-op")
	}
}

func TestStdout(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	if err := s.Notify(context.Background(), []int64{1}, "hola"); err != nil {
		t.Fatal(err)
	}
	var m Message
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatal(err)
	}
	if m.Text != "hola" || m.Recipients[0] != 1 || m.SentAt == 0 {
		t.Errorf("message: %+v", m)
	}
}
