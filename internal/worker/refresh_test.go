package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageAllFollowsCursors(t *testing.T) {
	pages := map[string]listResponse{
		"":   {Items: []map[string]any{{"id": "U1"}, {"id": "U2"}}, NextCursor: "p2"},
		"p2": {Items: []map[string]any{{"id": "U3"}}, NextCursor: "p3"},
		"p3": {Items: nil, NextCursor: ""},
	}

	var got []string
	err := pageAll(context.Background(),
		func(_ context.Context, cursor string) ([]map[string]any, string, error) {
			p, ok := pages[cursor]
			if !ok {
				return nil, "", fmt.Errorf("unknown cursor %q", cursor)
			}
			return p.Items, p.NextCursor, nil
		},
		func(item map[string]any) error {
			got = append(got, item["id"].(string))
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"U1", "U2", "U3"}, got)
}

func TestPageAllStopsOnApplyError(t *testing.T) {
	calls := 0
	err := pageAll(context.Background(),
		func(context.Context, string) ([]map[string]any, string, error) {
			return []map[string]any{{"id": "U1"}, {"id": "U2"}}, "", nil
		},
		func(map[string]any) error {
			calls++
			return errors.New("upsert failed")
		})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestHTTPDirectoryPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/users", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("cursor") {
		case "":
			json.NewEncoder(w).Encode(listResponse{ //nolint:errcheck
				Items: []map[string]any{{"id": "U1"}}, NextCursor: "next"})
		case "next":
			json.NewEncoder(w).Encode(listResponse{ //nolint:errcheck
				Items: []map[string]any{{"id": "U2"}}})
		default:
			http.Error(w, "bad cursor", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	d := NewHTTPDirectory(srv.URL, time.Second)

	items, next, err := d.ListUsers(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "U1", items[0]["id"])
	assert.Equal(t, "next", next)

	items, next, err = d.ListUsers(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, "U2", items[0]["id"])
	assert.Empty(t, next)
}

func TestHTTPDirectoryNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, _, err := NewHTTPDirectory(srv.URL, time.Second).ListChannels(context.Background(), "")
	assert.Error(t, err)
}
