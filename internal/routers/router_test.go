package routers

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/room-sync/config"
	"github.com/xenn00/room-sync/internal/bridge/memory"
	"github.com/xenn00/room-sync/internal/dtos/timeline_dto"
	"github.com/xenn00/room-sync/internal/entity"
	app_error "github.com/xenn00/room-sync/internal/errors"
	"github.com/xenn00/room-sync/internal/permission"
	"github.com/xenn00/room-sync/internal/ranking"
	timeline_service "github.com/xenn00/room-sync/internal/use-case/timeline-case"
	"github.com/xenn00/room-sync/internal/utils"
	"github.com/xenn00/room-sync/state"
	"maunium.net/go/mautrix/id"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	alice id.UserID = "@alice:local"
	bob   id.UserID = "@bob:local"
)

type envelope struct {
	Message string              `json:"message"`
	Data    jsoniter.RawMessage `json:"data"`
	Errors  *struct {
		Code  int    `json:"code"`
		Kind  string `json:"kind"`
		Field string `json:"field"`
	} `json:"errors"`
}

type apiFixture struct {
	t       *testing.T
	handler http.Handler
	server  *memory.Server
	service timeline_service.TimelineServiceContract
	key     *rsa.PrivateKey
	room    id.RoomID
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	server := memory.NewServer()
	room := server.CreateRoom(alice, memory.RoomSpec{Name: "team"})
	client := server.Connect(alice)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	appState := &state.AppState{
		Ctx:       ctx,
		Cancel:    cancel,
		Conf:      config.Default(),
		Bridge:    client,
		JwtSecret: &state.JwtSecret{Private: key, Public: &key.PublicKey},
		Registry:  prometheus.NewRegistry(),
	}
	service := timeline_service.NewTimelineService(appState)
	require.Nil(t, service.Start(ctx))
	t.Cleanup(func() { _ = service.Close() })

	require.Eventually(t, func() bool {
		_, appErr := service.Room(room)
		return appErr == nil
	}, 2*time.Second, 10*time.Millisecond)

	return &apiFixture{
		t:       t,
		handler: NewRouter(appState, service, nil),
		server:  server,
		service: service,
		key:     key,
		room:    room,
	}
}

func (f *apiFixture) token(userID id.UserID) string {
	token, err := utils.IssueToken(string(userID), userID.Localpart(), time.Hour, f.key)
	require.NoError(f.t, err)
	return token
}

func (f *apiFixture) do(method, path, token string, body any) (int, envelope) {
	f.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec.Code, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	api := newAPI(t)

	code, _ := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "roomsync_events_ingested_total")
}

func TestRouter_RequiresSessionUser(t *testing.T) {
	api := newAPI(t)

	code, _ := api.do(http.MethodGet, "/api/v1/rooms", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, env := api.do(http.MethodGet, "/api/v1/rooms", api.token(bob), nil)
	assert.Equal(t, http.StatusForbidden, code)
	require.NotNil(t, env.Errors)
	assert.Equal(t, "auth", env.Errors.Field)

	code, env = api.do(http.MethodGet, "/api/v1/rooms", api.token(alice), nil)
	require.Equal(t, http.StatusOK, code)
	rooms := decodeData[[]ranking.RankedRoom](t, env)
	require.Len(t, rooms, 1)
	assert.Equal(t, api.room, rooms[0].ID)
}

func TestRouter_MessageLifecycle(t *testing.T) {
	api := newAPI(t)
	token := api.token(alice)
	roomPath := "/api/v1/rooms/" + string(api.room)

	// deletions only arrive through the subscription
	code, _ := api.do(http.MethodPost, roomPath+"/observe", token, nil)
	require.Equal(t, http.StatusCreated, code)

	code, env := api.do(http.MethodPost, roomPath+"/messages", token, timeline_dto.SendMessageRequest{Kind: "text", Body: "hello"})
	require.Equal(t, http.StatusCreated, code, env.Message)
	sent := decodeData[timeline_dto.SendMessageResponse](t, env)
	require.NotEmpty(t, sent.Event.ID)

	code, env = api.do(http.MethodPut, roomPath+"/messages/"+string(sent.Event.ID), token, timeline_dto.EditMessageRequest{Body: "hello there"})
	require.Equal(t, http.StatusOK, code, env.Message)

	code, env = api.do(http.MethodPost, roomPath+"/messages", token, timeline_dto.SendMessageRequest{Kind: "text", Body: "bye", ReplyTo: string(sent.Event.ID)})
	require.Equal(t, http.StatusCreated, code, env.Message)
	answer := decodeData[timeline_dto.SendMessageResponse](t, env)

	code, env = api.do(http.MethodGet, roomPath+"/messages/"+string(answer.Event.ID)+"/reply", token, nil)
	require.Equal(t, http.StatusOK, code, env.Message)

	code, _ = api.do(http.MethodDelete, roomPath+"/messages/"+string(answer.Event.ID), token, timeline_dto.DeleteMessageRequest{Reason: "typo"})
	require.Equal(t, http.StatusOK, code)

	byID := func() map[id.EventID]timeline_dto.EventResponse {
		code, env := api.do(http.MethodGet, roomPath+"/timeline?dir=asc", token, nil)
		require.Equal(t, http.StatusOK, code)
		view := decodeData[timeline_dto.TimelineResponse](t, env)

		out := make(map[id.EventID]timeline_dto.EventResponse)
		for _, collection := range view.Collections {
			for _, frame := range collection.Frames {
				for _, ev := range frame.Events {
					out[ev.Event.ID] = ev
				}
			}
		}
		return out
	}

	require.Eventually(t, func() bool {
		view, appErr := api.service.Timeline(api.room, "")
		return appErr == nil && view.Annotations[answer.Event.ID].Redacted
	}, 2*time.Second, 20*time.Millisecond)

	events := byID()
	require.NotNil(t, events[sent.Event.ID].Annotations)
	assert.True(t, events[sent.Event.ID].Annotations.Edited)
	assert.Equal(t, "hello there", events[sent.Event.ID].Annotations.Body)
	assert.Equal(t, "typo", events[answer.Event.ID].Annotations.RedactionReason)
	assert.Equal(t, timeline_service.ReplyLoaded, events[answer.Event.ID].Annotations.Reply)

	code, _ = api.do(http.MethodGet, roomPath+"/timeline?dir=sideways", token, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRouter_ValidationAndPermissions(t *testing.T) {
	api := newAPI(t)
	token := api.token(alice)
	roomPath := "/api/v1/rooms/" + string(api.room)

	code, env := api.do(http.MethodPost, roomPath+"/messages", token, timeline_dto.SendMessageRequest{Kind: "image"})
	assert.Equal(t, http.StatusBadRequest, code)
	require.NotNil(t, env.Errors)
	assert.Equal(t, "validation", env.Errors.Field)

	code, _ = api.do(http.MethodPost, roomPath+"/power-levels", token, timeline_dto.SetPowerLevelRequest{UserID: "bob", Level: 50})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = api.do(http.MethodPost, roomPath+"/power-levels", token, timeline_dto.SetPowerLevelRequest{UserID: "@ghost:local", Level: 10})
	assert.Equal(t, http.StatusNotFound, code)
	require.NotNil(t, env.Errors)
	assert.Equal(t, app_error.ErrNotFound.Error(), env.Errors.Kind)

	code, env = api.do(http.MethodGet, roomPath+"/permissions", token, nil)
	require.Equal(t, http.StatusOK, code)
	decisions := decodeData[[]permission.Decision](t, env)
	assert.Len(t, decisions, len(permission.AllActions))

	code, _ = api.do(http.MethodGet, "/api/v1/rooms/!missing:local", token, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRouter_ObserveAndRelease(t *testing.T) {
	api := newAPI(t)
	token := api.token(alice)
	roomPath := "/api/v1/rooms/" + string(api.room)

	code, env := api.do(http.MethodPost, roomPath+"/observe", token, nil)
	require.Equal(t, http.StatusCreated, code)
	handle := decodeData[timeline_dto.ObserveResponse](t, env)
	require.NotEmpty(t, handle.HandleID)

	// posted straight on the homeserver, it can only arrive through the subscription
	posted, err := api.server.Post(api.room, alice, entity.TextContent{Body: "from elsewhere"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		view, appErr := api.service.Timeline(api.room, "")
		if appErr != nil {
			return false
		}
		for _, collection := range view.Collections {
			for _, frame := range collection {
				for _, ev := range frame {
					if ev.ID == posted.ID {
						return true
					}
				}
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	code, _ = api.do(http.MethodDelete, roomPath+"/observe/"+handle.HandleID, token, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = api.do(http.MethodDelete, roomPath+"/observe/"+handle.HandleID, token, nil)
	assert.Equal(t, http.StatusNotFound, code, "a handle is released once")
}
