package openai_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"antigravity2api-go/internal/config"
	"antigravity2api-go/internal/credential"
	apierrors "antigravity2api-go/internal/errors"
	"antigravity2api-go/internal/events"
	"antigravity2api-go/internal/handlers/admin"
	"antigravity2api-go/internal/handlers/openai"
	"antigravity2api-go/internal/oauth"
	"antigravity2api-go/internal/queue"
	"antigravity2api-go/internal/server"
	"antigravity2api-go/internal/upstream"
)

type noRefresh struct{}

func (noRefresh) Refresh(context.Context, string) (*oauth.TokenResponse, error) {
	return &oauth.TokenResponse{AccessToken: "refreshed", ExpiresIn: 3600}, nil
}

type testProxy struct {
	router   http.Handler
	cfg      *config.Config
	creds    *credential.Manager
	admitted *queue.Queue
}

func newTestProxy(t *testing.T, upstreamURL string, mutate func(*config.Config)) *testProxy {
	t.Helper()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.API.URL = upstreamURL
	cfg.API.Host = ""
	cfg.Security.APIKey = "sk-test"
	if mutate != nil {
		mutate(cfg)
	}

	path := filepath.Join(t.TempDir(), "accounts.json")
	records := []map[string]any{{
		"refresh_token": "rt-aaaa-0000",
		"access_token":  "at-valid",
		"expires_in":    3600,
		"timestamp":     credential.NowMS(),
		"project_id":    "calm-atlas-00000",
	}}
	data, err := json.Marshal(records)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	store := credential.NewStore(path)
	t.Cleanup(store.Close)

	creds, err := credential.NewManager(credential.ManagerOptions{
		Store:     store,
		Refresher: noRefresh{},
		Config:    cfg,
	})
	require.NoError(t, err)

	admitted := queue.New(queue.Options{
		Concurrency: cfg.ResolveMaxConcurrent(creds.EnabledCount()),
		QueueLimit:  cfg.Concurrency.QueueLimit,
		Timeout:     cfg.QueueTimeout(),
	})

	engine := upstream.NewEngine(upstream.EngineOptions{
		Credentials: creds,
		Client:      upstream.NewClient(cfg),
		Config:      cfg,
	})

	router := server.Build(server.Dependencies{
		Config: cfg,
		Chat: openai.NewHandler(openai.HandlerOptions{
			Config:  cfg,
			Engine:  engine,
			Queue:   admitted,
			Catalog: upstream.NewModelCatalog(cfg, creds),
		}),
		Admin: admin.NewHandler(admin.HandlerOptions{
			Credentials: creds,
			Queue:       admitted,
			Hub:         events.NewHub(),
		}),
	})

	return &testProxy{router: router, cfg: cfg, creds: creds, admitted: admitted}
}

func (p *testProxy) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk-test")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	p.router.ServeHTTP(rec, req)
	return rec
}

func fullReplyUpstream() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		frames := []string{
			`{"response":{"candidates":[{"content":{"parts":[{"thought":true,"text":"pondering"}]}}]}}`,
			`{"response":{"candidates":[{"content":{"parts":[{"text":"the answer"}]}}]}}`,
			`{"response":{"candidates":[{"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":7,"totalTokenCount":10}}}`,
		}
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestChatCompletionsNonStreaming(t *testing.T) {
	srv := httptest.NewServer(fullReplyUpstream())
	defer srv.Close()

	proxy := newTestProxy(t, srv.URL, nil)
	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.ParseBytes(rec.Body.Bytes())
	require.Equal(t, "chat.completion", body.Get("object").String())
	require.True(t, strings.HasPrefix(body.Get("id").String(), "chatcmpl-"))
	require.Equal(t, "gemini-2.5-pro", body.Get("model").String())

	choice := body.Get("choices.0")
	require.Equal(t, "assistant", choice.Get("message.role").String())
	require.Equal(t, "the answer", choice.Get("message.content").String())
	require.Equal(t, "pondering", choice.Get("message.reasoning_content").String())
	require.Equal(t, "stop", choice.Get("finish_reason").String())
	require.Equal(t, int64(10), body.Get("usage.total_tokens").Int())
}

func TestChatCompletionsStreaming(t *testing.T) {
	srv := httptest.NewServer(fullReplyUpstream())
	defer srv.Close()

	proxy := newTestProxy(t, srv.URL, nil)
	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}],"stream":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	var payloads []gjson.Result
	sawDone := false
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sawDone = true
			continue
		}
		payloads = append(payloads, gjson.Parse(payload))
	}
	require.True(t, sawDone, "stream must terminate with [DONE]")
	require.NotEmpty(t, payloads)

	first := payloads[0]
	require.Equal(t, "chat.completion.chunk", first.Get("object").String())
	require.Equal(t, "assistant", first.Get("choices.0.delta.role").String())

	var content, reasoning, finish string
	for _, p := range payloads {
		content += p.Get("choices.0.delta.content").String()
		reasoning += p.Get("choices.0.delta.reasoning_content").String()
		if fr := p.Get("choices.0.finish_reason"); fr.Exists() && fr.Type != gjson.Null {
			finish = fr.String()
		}
	}
	require.Equal(t, "the answer", content)
	require.Equal(t, "pondering", reasoning)
	require.Equal(t, "stop", finish)
}

func TestChatCompletionsToolCallStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"get_weather","args":{"city":"Oslo"}},"thoughtSignature":"sig1"}]}}]}}`+"\n\n")
		fmt.Fprint(w, `data: {"response":{"candidates":[{"finishReason":"STOP"}]}}`+"\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	proxy := newTestProxy(t, srv.URL, nil)
	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"weather?"}],"stream":true,
		"tools":[{"type":"function","function":{"name":"get_weather","parameters":{"type":"object"}}}]}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var sawCall, sawFinish bool
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "data: ")
		if !gjson.Valid(line) {
			continue
		}
		p := gjson.Parse(line)
		if call := p.Get("choices.0.delta.tool_calls.0"); call.Exists() {
			sawCall = true
			require.Equal(t, int64(0), call.Get("index").Int())
			require.Equal(t, "function", call.Get("type").String())
			require.Equal(t, "get_weather", call.Get("function.name").String())
			require.True(t, strings.HasSuffix(call.Get("id").String(), "::sig1"))
			require.JSONEq(t, `{"city":"Oslo"}`, call.Get("function.arguments").String())
		}
		if fr := p.Get("choices.0.finish_reason"); fr.Exists() && fr.Type == gjson.String {
			sawFinish = true
			require.Equal(t, "tool_calls", fr.String())
		}
	}
	require.True(t, sawCall)
	require.True(t, sawFinish)
}

func TestChatCompletionsNonStreamingToolCallsOmitIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"response":{"candidates":[{"content":{"parts":[{"functionCall":{"name":"f","args":{}}}]}}]}}`+"\n\n")
		fmt.Fprint(w, `data: {"response":{"candidates":[{"finishReason":"STOP"}]}}`+"\n\n")
	}))
	defer srv.Close()

	proxy := newTestProxy(t, srv.URL, nil)
	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"go"}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.ParseBytes(rec.Body.Bytes())
	call := body.Get("choices.0.message.tool_calls.0")
	require.True(t, call.Exists())
	require.False(t, call.Get("index").Exists())
	require.Equal(t, "tool_calls", body.Get("choices.0.finish_reason").String())
}

func TestChatCompletionsTranslatesRequest(t *testing.T) {
	bodyCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		bodyCh <- payload
		fullReplyUpstream()(w, r)
	}))
	defer srv.Close()

	temp := 0.5
	proxy := newTestProxy(t, srv.URL, func(cfg *config.Config) {
		cfg.Defaults.Temperature = &temp
	})
	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[
		{"role":"system","content":"be brief"},
		{"role":"user","content":"hi"}
	],"max_tokens":64}`)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case payload := <-bodyCh:
		body := gjson.ParseBytes(payload)
		require.Equal(t, "calm-atlas-00000", body.Get("project").String())
		require.Equal(t, "gemini-2.5-pro", body.Get("model").String())
		require.Equal(t, "be brief", body.Get("request.systemInstruction.parts.0.text").String())
		require.Equal(t, "user", body.Get("request.contents.0.role").String())
		require.Equal(t, "hi", body.Get("request.contents.0.parts.0.text").String())
		require.Equal(t, 0.5, body.Get("request.generationConfig.temperature").Float())
		require.Equal(t, int64(64), body.Get("request.generationConfig.maxOutputTokens").Int())
		require.Negative(t, body.Get("request.session_id").Int())
	case <-time.After(time.Second):
		t.Fatal("upstream never received the request")
	}
}

func TestChatCompletionsResponseFormat(t *testing.T) {
	bodyCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)
		bodyCh <- payload
		fullReplyUpstream()(w, r)
	}))
	defer srv.Close()

	proxy := newTestProxy(t, srv.URL, nil)
	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}],
		"response_format":{"type":"json_schema","json_schema":{"schema":{"type":"object","properties":{"ok":{"type":"boolean"}}}}}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	payload := <-bodyCh
	body := gjson.ParseBytes(payload)
	require.Equal(t, "application/json", body.Get("request.generationConfig.responseMimeType").String())
	require.Equal(t, "object", body.Get("request.generationConfig.responseSchema.type").String())
}

func TestChatCompletionsValidation(t *testing.T) {
	proxy := newTestProxy(t, "http://127.0.0.1:0", nil)

	rec := proxy.post(t, `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", gjson.GetBytes(rec.Body.Bytes(), "error.type").String())

	rec = proxy.post(t, `{"model":"m","messages":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = proxy.post(t, `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCompletionsRequiresAPIKey(t *testing.T) {
	proxy := newTestProxy(t, "http://127.0.0.1:0", nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	proxy.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "authentication_error", gjson.GetBytes(rec.Body.Bytes(), "error.type").String())
}

func TestChatCompletionsQueueFull(t *testing.T) {
	srv := httptest.NewServer(fullReplyUpstream())
	defer srv.Close()

	proxy := newTestProxy(t, srv.URL, func(cfg *config.Config) {
		cfg.Concurrency.MaxConcurrent = "1"
		cfg.Concurrency.QueueLimit = 1
	})

	// Occupy the only slot and fill the single queue position.
	blockRelease, err := proxy.admitted.Acquire(context.Background())
	require.NoError(t, err)
	defer blockRelease()
	go proxy.admitted.Acquire(context.Background())
	require.Eventually(t, func() bool {
		return proxy.admitted.Stats().Waiting == 1
	}, time.Second, 5*time.Millisecond)

	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "queue_full", gjson.GetBytes(rec.Body.Bytes(), "error.code").String())
}

func TestChatCompletionsTimesOutSlowHandler(t *testing.T) {
	unblock := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-unblock:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(unblock)

	proxy := newTestProxy(t, srv.URL, func(cfg *config.Config) {
		cfg.Concurrency.Timeout = 50
	})

	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	require.Equal(t, "timeout", gjson.GetBytes(rec.Body.Bytes(), "error.type").String())
}

func TestChatCompletionsAllCoolingReturns429WithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(fullReplyUpstream())
	defer srv.Close()

	proxy := newTestProxy(t, srv.URL, nil)

	stats := proxy.creds.GetAllStats()
	require.Len(t, stats.Credentials, 1)

	// Push the only credential into cooldown directly.
	cred, release, err := proxy.creds.Acquire(context.Background(), nil)
	require.NoError(t, err)
	release()
	proxy.creds.RecordFailure(cred, apierrors.NewRateLimit("upstream throttled", 10_000))

	rec := proxy.post(t, `{"model":"gemini-2.5-pro","messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "10", rec.Header().Get("Retry-After"))
	require.Equal(t, "rate_limit_error", gjson.GetBytes(rec.Body.Bytes(), "error.type").String())
}

func TestModelsEndpoint(t *testing.T) {
	proxy := newTestProxy(t, "http://127.0.0.1:0", func(cfg *config.Config) {
		cfg.API.ModelsURL = ""
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer sk-test")
	rec := httptest.NewRecorder()
	proxy.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.ParseBytes(rec.Body.Bytes())
	require.Equal(t, "list", body.Get("object").String())
	require.Positive(t, body.Get("data.#").Int())
	require.Equal(t, "model", body.Get("data.0.object").String())
}
