package api

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/smart-trainer/ant-bridge/internal/antsim"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/radio"
	"github.com/lowaak/smart-trainer/ant-bridge/internal/sensor"
)

var (
	hrID      = radio.DeviceID{Number: 100, Type: radio.DeviceTypeHeartRate, TransmissionType: 1}
	trainerID = radio.DeviceID{Number: 300, Type: radio.DeviceTypeFitnessEquipment, TransmissionType: 5}
)

type testServer struct {
	hub    *sensor.Hub
	node   *antsim.Node
	server *Server
	http   *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	node := antsim.NewNode(logger, antsim.Config{Sensors: []antsim.SensorSpec{{ID: hrID}, {ID: trainerID}}})
	hub := sensor.New(node, logger, sensor.Options{Sleep: func(time.Duration) {}})
	require.NoError(t, hub.Start())

	server, err := New(Deps{Sensors: hub, Logger: logger, ScanTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	server.startRelay(context.Background())
	ts := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		ts.Close()
		_ = server.Close()
		_ = hub.Close()
	})
	return &testServer{hub: hub, node: node, server: server, http: ts}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded map[string]any
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &decoded))
	}
	return resp, decoded
}

func (ts *testServer) scanAndConnect(t *testing.T, id radio.DeviceID) sensor.SessionInfo {
	t.Helper()
	_, err := ts.hub.Scan(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	info, err := ts.hub.Connect(sensor.Key(id))
	require.NoError(t, err)
	return info
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
	_, err = New(Deps{Logger: log.New(io.Discard, "", 0)})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.http.URL+"/api/v1/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get("X-Request-ID"))
}

func TestScan(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.http.URL + "/api/v1/sensors?timeout=0.05")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var found []sensor.Descriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&found))
	keys := make([]string, 0, len(found))
	for _, d := range found {
		keys = append(keys, d.Key)
	}
	assert.ElementsMatch(t, []string{sensor.Key(hrID), sensor.Key(trainerID)}, keys)
}

func TestScan_BadTimeout(t *testing.T) {
	ts := newTestServer(t)
	for _, q := range []string{"abc", "0", "-1", "600"} {
		resp, body := ts.do(t, http.MethodGet, "/api/v1/sensors?timeout="+q, "")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.Equal(t, ErrCodeBadRequest, body["code"], q)
	}
}

func TestConnectAndRead(t *testing.T) {
	ts := newTestServer(t)
	_, err := ts.hub.Scan(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/sensors/"+sensor.Key(hrID)+"/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, sensor.Label(hrID), body["sensor"])
	channel := int(body["channel"].(float64))

	// Connected, nothing decoded yet
	resp, body = ts.do(t, http.MethodGet, "/api/v1/sensors/"+sensor.Key(hrID)+"/data", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, ErrCodeNoDataYet, body["code"])

	require.True(t, ts.node.Emit(channel, radio.HeartRateData{HeartRate: 72}))
	resp, body = ts.do(t, http.MethodGet, "/api/v1/sensors/"+sensor.Key(hrID)+"/data", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(72), body["heart_rate"])

	resp, _ = ts.do(t, http.MethodGet, "/api/v1/sessions", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConnect_NotInScan(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodPost, "/api/v1/sensors/HeartRate_1_999/connect", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, ErrCodeNotFound, body["code"])
	assert.Equal(t, float64(http.StatusNotFound), body["status"])
	assert.NotEmpty(t, body["message"])
}

func TestGetReading_NotConnected(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/v1/sensors/unknown/data", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeNotConnected, body["code"])
}

func TestDisconnect(t *testing.T) {
	ts := newTestServer(t)
	ts.scanAndConnect(t, hrID)

	resp, body := ts.do(t, http.MethodDelete, "/api/v1/sensors/"+sensor.Key(hrID)+"/connect", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "disconnected", body["status"])
	assert.Empty(t, ts.hub.Sessions())

	resp, body = ts.do(t, http.MethodDelete, "/api/v1/sensors/"+sensor.Key(hrID)+"/connect", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeNotConnected, body["code"])
}

func TestAllReadings(t *testing.T) {
	ts := newTestServer(t)
	hr := ts.scanAndConnect(t, hrID)
	ts.scanAndConnect(t, trainerID)
	require.True(t, ts.node.Emit(hr.Channel, radio.HeartRateData{HeartRate: 80}))

	resp, body := ts.do(t, http.MethodGet, "/api/v1/readings", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]any)
	assert.Equal(t, map[string]any{"heart_rate": float64(80)}, data[sensor.Key(hrID)])
	errs := body["errors"].(map[string]any)
	assert.Contains(t, errs, sensor.Key(trainerID))
}

func TestSetTargetPower(t *testing.T) {
	ts := newTestServer(t)
	ts.scanAndConnect(t, trainerID)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/sensors/"+sensor.Key(trainerID)+"/erg", `{"target_watts": 220}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ERG", body["mode"])
	assert.Equal(t, sensor.Key(trainerID), body["sensor"])
	assert.Equal(t, sensor.Key(trainerID), body["session"])
	assert.Equal(t, float64(220), body["target_watts"])

	var sent []int
	for _, cmd := range ts.node.Commands() {
		if cmd.Op == antsim.OpSetTargetPower {
			sent = append(sent, int(cmd.Value))
		}
	}
	assert.Equal(t, []int{220}, sent)
}

func TestSetTargetPower_EchoesIdentifier(t *testing.T) {
	ts := newTestServer(t)
	ts.scanAndConnect(t, trainerID)

	id := strconv.Itoa(int(trainerID.Number))
	resp, body := ts.do(t, http.MethodPost, "/api/v1/sensors/"+id+"/erg", `{"target_watts": 180}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["sensor"])
	assert.Equal(t, sensor.Key(trainerID), body["session"])
	assert.Equal(t, float64(180), body["target_watts"])
}

func TestSetTargetPower_AboveCommandRange(t *testing.T) {
	ts := newTestServer(t)
	ts.scanAndConnect(t, trainerID)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/sensors/"+sensor.Key(trainerID)+"/erg", `{"target_watts": 40000}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeInvalidArgument, body["code"])
}

func TestSetTargetPower_Errors(t *testing.T) {
	ts := newTestServer(t)
	ts.scanAndConnect(t, hrID)
	path := "/api/v1/sensors/" + sensor.Key(hrID) + "/erg"

	resp, body := ts.do(t, http.MethodPost, path, `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeBadRequest, body["code"])

	resp, body = ts.do(t, http.MethodPost, path, `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeBadRequest, body["code"])

	// Heart rate strap only, no trainer to fall back to
	resp, body = ts.do(t, http.MethodPost, path, `{"target_watts": 100}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeUnsupported, body["code"])

	resp, body = ts.do(t, http.MethodPost, "/api/v1/sensors/nobody/erg", `{"target_watts": 100}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, ErrCodeNotFound, body["code"])
}

func TestSetTargetPower_NegativeWatts(t *testing.T) {
	ts := newTestServer(t)
	ts.scanAndConnect(t, trainerID)

	resp, body := ts.do(t, http.MethodPost, "/api/v1/sensors/"+sensor.Key(trainerID)+"/erg", `{"target_watts": -5}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeInvalidArgument, body["code"])
}

func TestUnknownRoute(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/v2/nothing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, ErrCodeNotFound, body["code"])

	resp, body = ts.do(t, http.MethodPut, "/api/v1/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, ErrCodeMethodNotAllow, body["code"])
}

func TestErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{sensor.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{sensor.ErrNotConnected, http.StatusBadRequest, ErrCodeNotConnected},
		{sensor.ErrNoDataYet, http.StatusServiceUnavailable, ErrCodeNoDataYet},
		{sensor.ErrResourceExhausted, http.StatusServiceUnavailable, ErrCodeResourceExhausted},
		{sensor.ErrConnection, http.StatusBadGateway, ErrCodeConnection},
		{sensor.ErrUnsupported, http.StatusBadRequest, ErrCodeUnsupported},
		{sensor.ErrInvalidArgument, http.StatusBadRequest, ErrCodeInvalidArgument},
		{sensor.ErrControlFailure, http.StatusInternalServerError, ErrCodeControlFailure},
		{sensor.ErrInternal, http.StatusInternalServerError, ErrCodeInternal},
		{context.Canceled, http.StatusServiceUnavailable, ErrCodeCancelled},
	}
	for _, c := range cases {
		status, code := errorStatus(c.err)
		assert.Equal(t, c.status, status, c.err.Error())
		assert.Equal(t, c.code, code, c.err.Error())
	}
}

func TestWebSocketStreamsReadings(t *testing.T) {
	ts := newTestServer(t)
	info := ts.scanAndConnect(t, hrID)

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return ts.server.hub.clientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.True(t, ts.node.Emit(info.Channel, radio.HeartRateData{HeartRate: 95}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var raw map[string]any
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, wsTypeReading, raw["type"])

	payload := raw["payload"].(map[string]any)
	assert.Equal(t, sensor.Key(hrID), payload["key"])
	assert.Equal(t, map[string]any{"heart_rate": float64(95)}, payload["reading"])
}
