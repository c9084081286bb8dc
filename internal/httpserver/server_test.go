package httpserver

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerLifecycle(t *testing.T) {
	s := New("127.0.0.1:0", nil)
	s.Handle("GET /hello/{name}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello "+r.PathValue("name"))
	}))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errc := make(chan error, 1)
	require.NoError(t, s.Start(ctx, &wg, errc))

	base := "http://" + s.Addr()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	resp, err = http.Get(base + "/hello/door")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "hello door", string(body))

	cancel()
	wg.Wait()

	_, err = http.Get(base + "/healthz")
	assert.Error(t, err)
	select {
	case err := <-errc:
		t.Fatalf("unexpected serve error: %v", err)
	default:
	}
}

func TestStartFailsOnBusyAddress(t *testing.T) {
	first := New("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	require.NoError(t, first.Start(ctx, &wg, make(chan error, 1)))

	second := New(first.Addr(), nil)
	err := second.Start(ctx, &wg, make(chan error, 1))
	assert.Error(t, err)

	cancel()
	wg.Wait()
}
