// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/mesh"
	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
)

const (
	testToken  = "syt_test_token"
	testBotID  = id.UserID("@meshrelay:example.com")
	testRoomID = id.RoomID("!dm-room:example.com")
	testAlias  = id.RoomAlias("#dms:example.com")
	testRelay  = mesh.NodeNum(0x12345678)
	testSender = mesh.NodeNum(0xabcd1234)
)

// endpointCall records which homeserver endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// sentMessage is a message the fake homeserver accepted.
type sentMessage struct {
	RoomID id.RoomID
	Body   string
}

// fakeHomeserver wraps an httptest.Server simulating the parts of the
// Matrix client-server API the relay uses.
type fakeHomeserver struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall
	sent  []sentMessage
	txn   int

	// Aliases maps room aliases to room IDs for directory lookups.
	Aliases map[id.RoomAlias]id.RoomID
	// ForbiddenRooms rejects sends to these rooms with M_FORBIDDEN.
	ForbiddenRooms map[id.RoomID]bool
	// RejectToken makes every authenticated request fail with
	// M_UNKNOWN_TOKEN.
	RejectToken bool

	closing chan struct{}
}

func newFakeHomeserver() *fakeHomeserver {
	f := &fakeHomeserver{
		Aliases:        make(map[id.RoomAlias]id.RoomID),
		ForbiddenRooms: make(map[id.RoomID]bool),
		closing:        make(chan struct{}),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeHomeserver) Close() {
	close(f.closing)
	f.Server.Close()
}

func (f *fakeHomeserver) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeHomeserver) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// CallCount returns how many requests hit a path containing fragment.
func (f *fakeHomeserver) CallCount(fragment string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.Contains(c.Path, fragment) {
			n++
		}
	}
	return n
}

func (f *fakeHomeserver) Sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.sent))
	copy(cp, f.sent)
	return cp
}

func writeMatrixError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"errcode": code, "error": msg})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeHomeserver) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	if f.RejectToken || r.Header.Get("Authorization") != "Bearer "+testToken {
		writeMatrixError(w, http.StatusUnauthorized, "M_UNKNOWN_TOKEN", "Invalid access token")
		return
	}

	const prefix = "/_matrix/client/v3/"
	path := strings.TrimPrefix(r.URL.Path, prefix)

	switch {
	case r.Method == http.MethodGet && path == "account/whoami":
		writeJSON(w, map[string]string{"user_id": string(testBotID), "device_id": "TESTDEVICE"})

	case r.Method == http.MethodGet && strings.HasPrefix(path, "directory/room/"):
		alias := id.RoomAlias(strings.TrimPrefix(path, "directory/room/"))
		roomID, ok := f.Aliases[alias]
		if !ok {
			writeMatrixError(w, http.StatusNotFound, "M_NOT_FOUND", "Room alias not found")
			return
		}
		writeJSON(w, map[string]any{"room_id": roomID, "servers": []string{"example.com"}})

	case r.Method == http.MethodPut && strings.HasPrefix(path, "rooms/") && strings.Contains(path, "/send/"):
		// rooms/{roomID}/send/{eventType}/{txnID}
		parts := strings.SplitN(strings.TrimPrefix(path, "rooms/"), "/", 4)
		roomID := id.RoomID(parts[0])
		if f.ForbiddenRooms[roomID] {
			writeMatrixError(w, http.StatusForbidden, "M_FORBIDDEN", "User not in room")
			return
		}
		var content event.MessageEventContent
		_ = json.Unmarshal(body, &content)
		f.mu.Lock()
		f.txn++
		eventID := fmt.Sprintf("$event%d", f.txn)
		f.sent = append(f.sent, sentMessage{RoomID: roomID, Body: content.Body})
		f.mu.Unlock()
		writeJSON(w, map[string]string{"event_id": eventID})

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/filter"):
		writeJSON(w, map[string]string{"filter_id": "1"})

	case r.Method == http.MethodGet && path == "sync":
		select {
		case <-r.Context().Done():
		case <-f.closing:
		}

	default:
		writeMatrixError(w, http.StatusNotFound, "M_UNRECOGNIZED", "Unrecognized request")
	}
}

// newTestClient returns a mautrix client pointed at the fake homeserver.
func newTestClient(t *testing.T, f *fakeHomeserver) *mautrix.Client {
	t.Helper()
	client, err := mautrix.NewClient(f.Server.URL, testBotID, testToken)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

// mockPlugin records calls and returns fixed answers.
type mockPlugin struct {
	name       string
	handleMesh bool
	handleRoom bool

	mu         sync.Mutex
	meshCalls  []meshCall
	roomCalls  []roomCall
	commands   []string
	lastHostOK bool
}

type meshCall struct {
	Packet           *mesh.Packet
	FormattedMessage string
	LongName         string
	MeshnetName      string
}

type roomCall struct {
	RoomID      id.RoomID
	FullMessage string
}

func (m *mockPlugin) Name() string        { return m.name }
func (m *mockPlugin) Description() string { return "mock " + m.name }

func (m *mockPlugin) HandleMeshtasticMessage(_ context.Context, pkt *mesh.Packet, formatted, longName, meshnet string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meshCalls = append(m.meshCalls, meshCall{pkt, formatted, longName, meshnet})
	return m.handleMesh
}

func (m *mockPlugin) HandleRoomMessage(_ context.Context, roomID id.RoomID, _ *event.Event, full string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomCalls = append(m.roomCalls, roomCall{roomID, full})
	return m.handleRoom
}

func (m *mockPlugin) MatrixCommands() []string { return m.commands }

func (m *mockPlugin) MeshCalls() []meshCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]meshCall(nil), m.meshCalls...)
}

func (m *mockPlugin) RoomCalls() []roomCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]roomCall(nil), m.roomCalls...)
}

// mockRegistration wraps a prebuilt mock plugin.
func mockRegistration(p *mockPlugin) plugin.Registration {
	return plugin.Registration{
		Name: p.name,
		New: func(_ *yaml.Node, host plugin.Host) (plugin.Plugin, error) {
			p.mu.Lock()
			p.lastHostOK = host.Sender != nil && host.Classifier != nil
			p.mu.Unlock()
			return p, nil
		},
	}
}

// newTestConfig returns a post-processed config for the fake homeserver.
func newTestConfig(t *testing.T, f *fakeHomeserver) *Config {
	t.Helper()
	cfg := &Config{
		Matrix: MatrixConfig{
			Homeserver:  f.Server.URL,
			BotUserID:   string(testBotID),
			AccessToken: testToken,
		},
		Meshtastic: MeshtasticConfig{
			RelayNode:   testRelay.String(),
			MeshnetName: "TestMesh",
		},
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

func textPacket(from, to mesh.NodeNum, text string) *mesh.Packet {
	return mesh.NewTextPacket(from, to, text)
}
