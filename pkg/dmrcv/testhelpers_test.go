// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package dmrcv

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/mesh"
	"github.com/aiku/mmrelay-dm-rcv-basic/pkg/plugin"
)

const (
	testRelayNode mesh.NodeNum = 0x12345678
	testSender    mesh.NodeNum = 0xabcd1234
	testRoom                   = "!dm-room:example.com"
)

// sendCall records a single SendMatrixMessage invocation.
type sendCall struct {
	Room string
	Text string
}

// mockSender captures outbound messages and returns a canned error.
type mockSender struct {
	mu    sync.Mutex
	calls []sendCall
	err   error
}

func (m *mockSender) SendMatrixMessage(_ context.Context, room, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, sendCall{Room: room, Text: text})
	return m.err
}

func (m *mockSender) Calls() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]sendCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// mockDirectory maps sender IDs to long names and counts lookups.
type mockDirectory struct {
	mu      sync.Mutex
	names   map[string]string
	lookups int
}

func (m *mockDirectory) LongName(_ context.Context, senderID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	name, ok := m.names[senderID]
	return name, ok
}

func (m *mockDirectory) Lookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

// newTestHost returns a host whose classifier treats packets to
// testRelayNode as DMs.
func newTestHost(sender *mockSender, dir *mockDirectory) plugin.Host {
	host := plugin.Host{
		Classifier: mesh.DirectClassifier{RelayNode: testRelayNode},
		Sender:     sender,
		Log:        zerolog.Nop(),
	}
	if dir != nil {
		host.Directory = dir
	}
	return host
}

// newTestPlugin builds a plugin with the given prefix setting.
func newTestPlugin(t *testing.T, prefix *bool, sender *mockSender, dir *mockDirectory) *Plugin {
	t.Helper()
	p, err := New(Config{DMRoom: testRoom, DMPrefix: prefix}, newTestHost(sender, dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// newBufferedPlugin is like newTestPlugin but logs JSON lines into the
// returned buffer.
func newBufferedPlugin(t *testing.T, sender *mockSender) (*Plugin, *syncBuffer) {
	t.Helper()
	buf := &syncBuffer{}
	host := newTestHost(sender, nil)
	host.Log = zerolog.New(buf)
	p, err := New(Config{DMRoom: testRoom}, host)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, buf
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func boolPtr(b bool) *bool {
	return &b
}

func dmPacket(text string) *mesh.Packet {
	return mesh.NewTextPacket(testSender, testRelayNode, text)
}
