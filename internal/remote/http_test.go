package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/feedsync/internal/model"
)

func TestHTTPPerformer_Perform(t *testing.T) {
	var gotAuth string
	var gotOp Op
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/mutations", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotOp))
		json.NewEncoder(w).Encode(Result{Patches: []model.Patch{
			model.UpdatePost("p1", model.PostFields{Likes: model.Ptr(int64(11))}),
		}})
	}))
	defer srv.Close()

	p := NewHTTPPerformer(srv.URL+"/", "tok", srv.Client())
	res, err := p.Perform(context.Background(), Op{
		Kind:       OpFlagToggle,
		MutationID: "m1",
		Flag:       &FlagToggle{UserID: "alice", PostID: "p1", Kind: model.FlagLike, On: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "m1", gotOp.MutationID)
	require.Len(t, res.Patches, 1)
	assert.Equal(t, int64(11), *res.Patches[0].Post.Likes)
}

func TestHTTPPerformer_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrUnauthorized},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusConflict, ErrRejected},
		{http.StatusTooManyRequests, ErrUnavailable},
		{http.StatusBadGateway, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer srv.Close()

			_, err := NewHTTPPerformer(srv.URL, "", srv.Client()).Perform(context.Background(), Op{Kind: OpPostCreate})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestHTTPPerformer_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPPerformer(url, "", nil).FetchAll(context.Background())
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
}

func TestHTTPPerformer_FetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/state", r.URL.Path)
		w.Write([]byte(`{"patches":[{"op":"insert","kind":"user","id":"alice","user":{"display_name":"Alice"}}]}`))
	}))
	defer srv.Close()

	patches, err := NewHTTPPerformer(srv.URL, "", srv.Client()).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, patches, 1)
	assert.Equal(t, model.KindUser, patches[0].Kind)
	assert.Equal(t, "Alice", *patches[0].User.DisplayName)
}
