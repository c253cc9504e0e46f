package notehub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fwupdate/internal/config"
	"fwupdate/internal/rules"
	apperrors "fwupdate/pkg/errors"
)

func newTestProject(t *testing.T, handler http.HandlerFunc) *Project {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(Options{
		APIURL:      server.URL,
		ProjectUID:  "app:1234",
		AccessToken: "session-token",
		Timeout:     time.Second,
	}, nil)
	require.NoError(t, err)

	return NewProject(client)
}

func TestNewClientCredentials(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{
			name:    "no credentials",
			opts:    Options{ProjectUID: "app:1"},
			wantErr: "Must provide either a user access token or a client Id for authentication",
		},
		{
			name:    "client id without secret",
			opts:    Options{ProjectUID: "app:1", ClientID: "id"},
			wantErr: "Must provide a client secret along with the client ID to enable authentication",
		},
		{
			name:    "missing project",
			opts:    Options{AccessToken: "tok"},
			wantErr: "Notehub project UID is required",
		},
		{
			name: "access token",
			opts: Options{ProjectUID: "app:1", AccessToken: "tok"},
		},
		{
			name: "client credentials",
			opts: Options{ProjectUID: "app:1", ClientID: "id", ClientSecret: "secret"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.opts, nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, apperrors.IsConfiguration(err))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client)
		})
	}
}

func TestSessionTokenHeader(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "session-token", r.Header.Get("X-Session-Token"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Write([]byte(`[]`))
	})

	entries, err := project.FetchFirmwareCatalog(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClientCredentialsFlow(t *testing.T) {
	var tokenCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		tokenCalls.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "my-id", r.PostForm.Get("client_id"))
		assert.Equal(t, "my-secret", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"bearer-abc","token_type":"bearer","expires_in":1800}`))
	})
	mux.HandleFunc("/v1/projects/app:1234/devices/dev:1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer bearer-abc", r.Header.Get("Authorization"))
		w.Write([]byte(`{"uid":"dev:1","fleet_uids":["fleet:a","fleet:b"]}`))
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(Options{
		APIURL:       server.URL,
		OAuthURL:     server.URL + "/oauth2/token",
		ProjectUID:   "app:1234",
		ClientID:     "my-id",
		ClientSecret: "my-secret",
	}, nil)
	require.NoError(t, err)
	project := NewProject(client)

	fleets, err := project.DeviceFleets(context.Background(), "dev:1")
	require.NoError(t, err)
	assert.Equal(t, []string{"fleet:a", "fleet:b"}, fleets)

	_, err = project.DeviceInfo(context.Background(), "dev:1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), tokenCalls.Load(), "token must be reused until it expires")
}

func TestFetchFirmwareCatalog(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/projects/app:1234/firmware", r.URL.Path)
		w.Write([]byte(`[
			{"type":"notecard","version":"8.1.3","filename":"notecard-8.1.3.bin","created":"2024-01-01"},
			{"type":"host","version":"3.1.2","filename":null},
			{"type":"host","version":"3.1.3","filename":42},
			{"type":"host","version":"3.1.4"}
		]`))
	})

	entries, err := project.FetchFirmwareCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "notecard", entries[0].Channel)
	assert.Equal(t, "8.1.3", entries[0].Version)
	require.NotNil(t, entries[0].Filename)
	assert.Equal(t, "notecard-8.1.3.bin", *entries[0].Filename)

	assert.Nil(t, entries[1].Filename)
	require.NotNil(t, entries[2].Filename)
	assert.Equal(t, "", *entries[2].Filename)
	assert.Nil(t, entries[3].Filename)
}

func TestFetchFirmwareByType(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "host", r.URL.Query().Get("firmwareType"))
		w.Write([]byte(`[{"type":"host","version":"1.0.0","filename":"h.bin"}]`))
	})

	entries, err := project.FetchFirmware(context.Background(), "host")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFetchCurrentFirmware(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string]any
	}{
		{
			name: "current record",
			body: `{"current":{"version":"8.1.3","built":"2024"},"history":[]}`,
			want: map[string]any{"version": "8.1.3", "built": "2024"},
		},
		{
			name: "no current record",
			body: `{"history":[]}`,
			want: map[string]any{},
		},
		{
			name: "empty body",
			body: ``,
			want: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/projects/app:1234/devices/dev:1/dfu/notecard/history", r.URL.Path)
				w.Write([]byte(tt.body))
			})

			record, err := project.FetchCurrentFirmware(context.Background(), "dev:1", rules.ChannelNotecard)
			require.NoError(t, err)
			assert.Equal(t, tt.want, record)
		})
	}
}

func TestFetchUpdateStatus(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/projects/app:1234/devices/dev:1/dfu/host/status", r.URL.Path)
		w.Write([]byte(`{"dfu_in_progress":true,"status":"downloading"}`))
	})

	status, err := project.FetchUpdateStatus(context.Background(), "dev:1", rules.ChannelHost)
	require.NoError(t, err)
	assert.True(t, status.InProgress)
	assert.Equal(t, "downloading", status.Details["status"])
}

func TestRequestFirmwareUpdate(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/projects/app:1234/dfu/notecard/update", r.URL.Path)
		assert.Equal(t, "dev:1", r.URL.Query().Get("deviceUID"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, map[string]string{"filename": "notecard-8.1.3.bin"}, payload)
	})

	err := project.RequestFirmwareUpdate(context.Background(), "dev:1", "notecard-8.1.3.bin", rules.ChannelNotecard)
	require.NoError(t, err)
}

func TestCancelFirmwareUpdate(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/projects/app:1234/dfu/host/cancel", r.URL.Path)
		assert.Equal(t, "dev:1", r.URL.Query().Get("deviceUID"))
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, project.CancelFirmwareUpdate(context.Background(), "dev:1", rules.ChannelHost))
}

func TestRequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantMsg: "Notehub authentication failed. Check API token(s)"},
		{name: "not found", status: http.StatusNotFound, body: `{}`, wantMsg: "Notehub path not found"},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`, wantMsg: "Notehub Request Error: 500 - boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := project.FetchUpdateStatus(context.Background(), "dev:1", rules.ChannelNotecard)
			require.Error(t, err)
			assert.True(t, apperrors.IsCollaborator(err))

			var appErr *apperrors.Error
			require.True(t, errors.As(err, &appErr))
			assert.Equal(t, tt.wantMsg, appErr.Reason())
			assert.Equal(t, tt.status, appErr.Details["status"])
		})
	}
}

func TestEmptyDeviceRejected(t *testing.T) {
	project := newTestProject(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	err := project.RequestFirmwareUpdate(context.Background(), "", "f.bin", rules.ChannelHost)
	assert.True(t, apperrors.IsValidation(err))
}

func TestBreakerIgnoresClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client, err := NewClient(Options{
		APIURL:      server.URL,
		ProjectUID:  "app:1",
		AccessToken: "tok",
		Breaker:     NewBreaker(config.CircuitBreakerConfig{Timeout: time.Minute}),
	}, nil)
	require.NoError(t, err)
	project := NewProject(client)

	for i := 0; i < 6; i++ {
		_, err := project.DeviceInfo(context.Background(), "dev:1")
		require.Error(t, err)
	}
	assert.Equal(t, int32(6), calls.Load())
}

func TestBreakerOpensOnServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(Options{
		APIURL:      server.URL,
		ProjectUID:  "app:1",
		AccessToken: "tok",
		Breaker:     NewBreaker(config.CircuitBreakerConfig{Timeout: time.Minute}),
	}, nil)
	require.NoError(t, err)
	project := NewProject(client)

	for i := 0; i < 3; i++ {
		_, err := project.DeviceInfo(context.Background(), "dev:1")
		require.Error(t, err)
	}

	_, err = project.DeviceInfo(context.Background(), "dev:1")
	require.Error(t, err)
	assert.True(t, apperrors.IsCollaborator(err))
	assert.Contains(t, err.Error(), "circuit breaker open")
	assert.Equal(t, int32(3), calls.Load())
}
