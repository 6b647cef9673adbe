package fluffle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	testAdminUsername = "admin"
	testAdminPassword = "correct horse battery staple"
)

func newTestAPIBot(t testing.TB) (*Fluffle, *mockDiscordSession) {
	t.Helper()
	cfg := DefaultTestConfig(t)
	cfg.API.Enabled = true
	f, session := newTestBot(t, cfg)
	require.NotNil(t, f.api)
	return f, session
}

func apiRequest(
	t testing.TB,
	f *Fluffle,
	method string,
	path string,
	payload any,
	cookies ...*http.Cookie,
) *httptest.ResponseRecorder {
	t.Helper()
	body := io.Reader(http.NoBody)
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.api.engine.ServeHTTP(w, req)
	return w
}

func decodeJSON[T any](t testing.TB, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// loginAdmin sets up the admin credentials and logs in, returning the
// session cookie
func loginAdmin(t testing.TB, f *Fluffle) *http.Cookie {
	t.Helper()
	f.api.loginRequestLimiter = rate.NewLimiter(rate.Inf, 1)

	w := apiRequest(
		t,
		f,
		http.MethodPost,
		apiPathSetup,
		adminSetupPayload{
			Username:        testAdminUsername,
			Password:        testAdminPassword,
			ConfirmPassword: testAdminPassword,
		},
	)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = apiRequest(
		t,
		f,
		http.MethodPost,
		apiPathLogin,
		userLogin{Username: testAdminUsername, Password: testAdminPassword},
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestAPI_SetupAndLogin(t *testing.T) {
	f, _ := newTestAPIBot(t)
	f.api.loginRequestLimiter = rate.NewLimiter(rate.Inf, 1)

	w := apiRequest(t, f, http.MethodGet, apiPathSetupStatus, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeJSON[setupResponse](t, w).Required)

	// nothing is reachable until setup is done
	w = apiRequest(t, f, http.MethodGet, apiPrefix+apiPathConfig, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(
		t,
		f,
		http.MethodPost,
		apiPathSetup,
		adminSetupPayload{Username: "admin", Password: "a", ConfirmPassword: "b"},
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	cookie := loginAdmin(t, f)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, int(f.config.API.SessionMaxAge.Seconds()), cookie.MaxAge)

	w = apiRequest(t, f, http.MethodGet, apiPathSetupStatus, nil)
	assert.False(t, decodeJSON[setupResponse](t, w).Required)

	// credentials can only be set once
	w = apiRequest(
		t,
		f,
		http.MethodPost,
		apiPathSetup,
		adminSetupPayload{Username: "other", Password: "a", ConfirmPassword: "a"},
	)
	assert.Equal(t, http.StatusForbidden, w.Code)

	var stored RuntimeConfig
	require.NoError(t, f.db.Last(&stored).Error)
	assert.Equal(t, testAdminUsername, stored.AdminUsername)
	assert.NotEqual(t, testAdminPassword, stored.AdminPassword)

	w = apiRequest(
		t,
		f,
		http.MethodPost,
		apiPathLogin,
		userLogin{Username: testAdminUsername, Password: "wrong"},
	)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(t, f, http.MethodGet, apiPrefix+apiPathLoggedIn, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, testAdminUsername, decodeJSON[loggedInResponse](t, w).Username)

	w = apiRequest(t, f, http.MethodGet, apiPrefix+apiPathLoggedIn, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_LoginRateLimit(t *testing.T) {
	f, _ := newTestAPIBot(t)

	login := userLogin{Username: testAdminUsername, Password: testAdminPassword}
	w := apiRequest(t, f, http.MethodPost, apiPathLogin, login)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = apiRequest(t, f, http.MethodPost, apiPathLogin, login)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestAPI_HealthCheck(t *testing.T) {
	f, _ := newTestAPIBot(t)

	w := apiRequest(t, f, http.MethodGet, apiHealthCheck, nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON[healthCheckResponse](t, w)
	assert.False(t, resp.Paused)
	assert.Equal(t, f.registry.Len(), resp.Commands)
	assert.False(t, resp.DiscordGatewayConnected)
}

func TestAPI_Config(t *testing.T) {
	f, session := newTestAPIBot(t)
	cookie := loginAdmin(t, f)

	w := apiRequest(t, f, http.MethodGet, apiPrefix+apiPathConfig, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	current := decodeJSON[RuntimeConfig](t, w)
	assert.Equal(t, DefaultDiscordCustomStatus, current.DiscordCustomStatus)
	assert.Empty(t, current.AdminPassword)

	w = apiRequest(
		t,
		f,
		http.MethodPatch,
		apiPrefix+apiPathConfig,
		map[string]any{"discord_custom_status": "napping", "log_level": "DEBUG"},
		cookie,
	)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	updated := decodeJSON[RuntimeConfig](t, w)
	assert.Equal(t, "napping", updated.DiscordCustomStatus)
	assert.Equal(t, "napping", f.RuntimeConfig().DiscordCustomStatus)
	assert.Equal(t, DBLogLevelDebug, f.RuntimeConfig().LogLevel)

	statuses := session.statusUpdates()
	require.Len(t, statuses, 1)
	require.Len(t, statuses[0].Activities, 1)
	assert.Equal(t, "napping", statuses[0].Activities[0].State)

	var stored RuntimeConfig
	require.NoError(t, f.db.Last(&stored).Error)
	assert.Equal(t, "napping", stored.DiscordCustomStatus)

	w = apiRequest(
		t,
		f,
		http.MethodPatch,
		apiPrefix+apiPathConfig,
		map[string]any{"log_level": "LOUD"},
		cookie,
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, DBLogLevelDebug, f.RuntimeConfig().LogLevel)

	w = apiRequest(t, f, http.MethodPatch, apiPrefix+apiPathConfig, map[string]any{}, cookie)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPI_PauseResume(t *testing.T) {
	f, _ := newTestAPIBot(t)
	cookie := loginAdmin(t, f)

	w := apiRequest(t, f, http.MethodPost, apiPrefix+apiPathPause, nil, cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, f.paused.Load())

	w = apiRequest(t, f, http.MethodPost, apiPrefix+apiPathPause, nil, cookie)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = apiRequest(t, f, http.MethodPost, apiPrefix+apiPathResume, nil, cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, f.paused.Load())

	w = apiRequest(t, f, http.MethodPost, apiPrefix+apiPathResume, nil, cookie)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_Quit(t *testing.T) {
	f, _ := newTestAPIBot(t)
	cookie := loginAdmin(t, f)

	w := apiRequest(t, f, http.MethodPost, apiPrefix+apiPathQuit, nil, cookie)
	assert.Equal(t, http.StatusOK, w.Code)
	select {
	case <-f.signalStop:
	default:
		t.Fatal("expected stop signal")
	}
}

func TestAPI_GuildChannels(t *testing.T) {
	f, _ := newTestAPIBot(t)
	cookie := loginAdmin(t, f)
	path := fmt.Sprintf("%s/guilds/100/channels", apiPrefix)

	w := apiRequest(
		t,
		f,
		http.MethodPost,
		path,
		guildChannelPayload{ChannelID: "300", ChannelName: "general", List: ChannelListWhitelist},
		cookie,
	)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	added := decodeJSON[guildChannelResponse](t, w)
	assert.Equal(t, ChannelListWhitelist, added.List)
	assert.Empty(t, added.Previous)

	w = apiRequest(
		t,
		f,
		http.MethodPost,
		path,
		guildChannelPayload{ChannelID: "300", List: ChannelListBlacklist},
		cookie,
	)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, ChannelListWhitelist, decodeJSON[guildChannelResponse](t, w).Previous)

	w = apiRequest(
		t,
		f,
		http.MethodPost,
		path,
		map[string]string{"channel_id": "abc", "list": "greylist"},
		cookie,
	)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = apiRequest(t, f, http.MethodGet, path, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	settings := decodeJSON[[]GuildChannelSetting](t, w)
	require.Len(t, settings, 1)
	assert.Equal(t, "300", settings[0].ChannelID)
	assert.Equal(t, ChannelListBlacklist, settings[0].List)
	assert.Equal(t, "api:"+testAdminUsername, settings[0].CreatedBy)

	w = apiRequest(t, f, http.MethodGet, path+"?list=whitelist", nil, cookie)
	assert.Empty(t, decodeJSON[[]GuildChannelSetting](t, w))

	w = apiRequest(t, f, http.MethodGet, path+"?list=greylist", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = apiRequest(t, f, http.MethodGet, apiPrefix+"/guilds/abc/channels", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	allowed, err := f.channelSettings.Allowed(context.Background(), "100", "300")
	require.NoError(t, err)
	assert.False(t, allowed)

	w = apiRequest(t, f, http.MethodDelete, path+"/300", nil, cookie)
	assert.Equal(t, http.StatusOK, w.Code)

	w = apiRequest(t, f, http.MethodDelete, path+"/300", nil, cookie)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = apiRequest(t, f, http.MethodDelete, path+"/abc", nil, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err = f.channelSettings.Add(
		context.Background(),
		GuildChannelSetting{GuildID: "100", ChannelID: "301", List: ChannelListWhitelist},
	)
	require.NoError(t, err)
	w = apiRequest(t, f, http.MethodDelete, path, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), decodeJSON[resetChannelsResponse](t, w).Removed)
}

func TestAPI_Commands(t *testing.T) {
	f, session := newTestAPIBot(t)
	cookie := loginAdmin(t, f)

	w := apiRequest(t, f, http.MethodGet, apiPrefix+apiPathCommands, nil, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	diffs := decodeJSON[[]commandDiffResponse](t, w)
	require.Len(t, diffs, f.registry.Len())
	for _, d := range diffs {
		assert.Equal(t, CommandLocalOnly, d.State, d.Name)
	}

	w = apiRequest(t, f, http.MethodPost, apiPrefix+apiPathCommandsSync, nil, cookie)
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeJSON[[]*discordgo.ApplicationCommand](t, w)
	assert.Len(t, created, f.registry.Len())
	assert.Len(t, session.remoteCommands(""), f.registry.Len())

	w = apiRequest(t, f, http.MethodGet, apiPrefix+apiPathCommands, nil, cookie)
	for _, d := range decodeJSON[[]commandDiffResponse](t, w) {
		assert.Equal(t, CommandSynced, d.State, d.Name)
	}

	session.commandsErr = errMockSession
	w = apiRequest(t, f, http.MethodGet, apiPrefix+apiPathCommands, nil, cookie)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
