package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type job struct {
	ID    int    `json:"id" validate:"required"`
	Title string `json:"title" validate:"required"`
}

type jobPage struct {
	Jobs  []job `json:"jobs" validate:"dive"`
	Total int   `json:"total" validate:"gte=0"`
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(loginRequest{Email: "a@b.io", Password: "longenough"}))
	assert.NoError(t, Validate(nil))
	assert.NoError(t, Validate((*loginRequest)(nil)))
	assert.NoError(t, Validate(map[string]string{"anything": "goes"}))
	assert.NoError(t, Validate([]job{}))

	err := Validate(&loginRequest{Email: "nope", Password: "short"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrValidation)
	apiErr, _ := AsAPIError(err)
	assert.Contains(t, apiErr.Detail, "loginRequest.Email failed email")
	assert.Contains(t, apiErr.Detail, "loginRequest.Password failed min=8")

	err = Validate([]job{{ID: 1, Title: "ok"}, {ID: 2}})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDecode(t *testing.T) {
	page, err := Decode[jobPage](json.RawMessage(`{"jobs": [{"id": 1, "title": "Go Engineer"}], "total": 1}`))
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "Go Engineer", page.Jobs[0].Title)

	_, err = Decode[jobPage](json.RawMessage(`{"jobs": [{"id": 1}], "total": 1}`))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = Decode[jobPage](json.RawMessage(`{"jobs": "many"}`))
	assert.ErrorIs(t, err, ErrValidation)

	jobs, err := Decode[[]job](json.RawMessage(`[{"id": 3, "title": "SRE"}]`))
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestTypedHelpers(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/jobs":
			_, _ = io.WriteString(w, `{"jobs": [{"id": 1, "title": "Go Engineer"}], "total": 1}`)
		case "/jobs/broken":
			_, _ = io.WriteString(w, `{"jobs": [{"title": "no id"}], "total": 1}`)
		case "/auth/login":
			_, _ = io.WriteString(w, `{"id": 9, "title": "session"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(NewDescriptor("core", srv.URL, time.Second, nil))
	require.NoError(t, err)
	ctx := context.Background()

	page, err := GetJSON[jobPage](ctx, c, "/jobs")
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = GetJSON[jobPage](ctx, c, "/jobs/broken")
	assert.ErrorIs(t, err, ErrValidation)
	apiErr, _ := AsAPIError(err)
	assert.Equal(t, "core", apiErr.Service)

	before := hits.Load()
	_, err = PostJSON[job](ctx, c, "/auth/login", loginRequest{Email: "bad"})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, before, hits.Load(), "invalid request bodies are never sent")

	got, err := PostJSON[job](ctx, c, "/auth/login", loginRequest{Email: "a@b.io", Password: "password1"})
	require.NoError(t, err)
	assert.Equal(t, 9, got.ID)

	_, err = DeleteJSON[job](ctx, c, "/missing")
	assert.ErrorIs(t, err, ErrHTTPStatus)
}
