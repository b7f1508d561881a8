package discord

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	c := &ipcClient{conn: client}

	// Write a frame from the client side.
	payload := `{"cmd":"SET_ACTIVITY","nonce":"abc123"}`
	go func() {
		if err := c.writeFrame(opFrame, []byte(payload)); err != nil {
			t.Errorf("writeFrame: %v", err)
		}
	}()

	// Read raw bytes from the server side and verify framing.
	header := make([]byte, 8)
	if _, err := io.ReadFull(server, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	opcode := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	if opcode != opFrame {
		t.Errorf("opcode = %d, want %d", opcode, opFrame)
	}
	if int(length) != len(payload) {
		t.Errorf("length = %d, want %d", length, len(payload))
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(server, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != payload {
		t.Errorf("body = %q, want %q", body, payload)
	}
}

func TestReadFrameLargePayload(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	c := &ipcClient{conn: server}

	// Build a payload >512 bytes.
	large := make([]byte, 2048)
	for i := range large {
		large[i] = 'x'
	}

	// Write raw frame from client side simulating Discord.
	go func() {
		header := make([]byte, 8)
		binary.LittleEndian.PutUint32(header[0:4], opFrame)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(large)))
		_, _ = client.Write(header)
		_, _ = client.Write(large)
	}()

	opcode, payload, err := c.readFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if opcode != opFrame {
		t.Errorf("opcode = %d, want %d", opcode, opFrame)
	}
	if len(payload) != len(large) {
		t.Errorf("payload length = %d, want %d", len(payload), len(large))
	}
}

func TestReadFrameHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer func() { _ = client.Close() }()
	defer func() { _ = server.Close() }()

	c := &ipcClient{conn: server}

	payload := `{"cmd":"DISPATCH","evt":"READY"}`
	go func() {
		header := make([]byte, 8)
		binary.LittleEndian.PutUint32(header[0:4], opHandshake)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(payload)))
		_, _ = client.Write(header)
		_, _ = client.Write([]byte(payload))
	}()

	opcode, data, err := c.readFrame()
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if opcode != opHandshake {
		t.Errorf("opcode = %d, want %d", opcode, opHandshake)
	}
	if string(data) != payload {
		t.Errorf("data = %q, want %q", data, payload)
	}
}

func TestSetActivity(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantErr  string
	}{
		{name: "accepted", response: `{"cmd":"SET_ACTIVITY","evt":null}`},
		{name: "rejected", response: `{"evt":"ERROR","data":{"code":4000,"message":"bad activity"}}`, wantErr: "bad activity"},
		{name: "garbage", response: `not json`, wantErr: "unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := net.Pipe()
			defer func() { _ = client.Close() }()
			defer func() { _ = server.Close() }()

			c := &ipcClient{conn: client}
			peer := &ipcClient{conn: server}

			sent := make(chan map[string]any, 1)
			go func() {
				_, data, err := peer.readFrame()
				if err != nil {
					return
				}
				var req map[string]any
				_ = json.Unmarshal(data, &req)
				sent <- req
				_ = peer.writeFrame(opFrame, []byte(tt.response))
			}()

			err := c.SetActivity(Activity{Type: 2, Details: "Song"})
			if tt.wantErr == "" && err != nil {
				t.Fatalf("SetActivity: %v", err)
			}
			if tt.wantErr != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErr)) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}

			req := <-sent
			if req["cmd"] != "SET_ACTIVITY" {
				t.Errorf("cmd = %v", req["cmd"])
			}
			if nonce, _ := req["nonce"].(string); len(nonce) != 36 {
				t.Errorf("nonce = %q, want a UUID", nonce)
			}
		})
	}
}

func TestSocketPaths(t *testing.T) {
	env := map[string]string{
		"XDG_RUNTIME_DIR": "/run/user/1000",
		"TMPDIR":          "/tmp",
	}
	paths := socketPaths(func(k string) string { return env[k] })

	want := []string{
		"/run/user/1000/discord-ipc-0",
		"/run/user/1000/app/com.discordapp.Discord/discord-ipc-0",
		"/run/user/1000/snap.discord/discord-ipc-9",
		"/tmp/discord-ipc-0",
	}
	for _, w := range want {
		found := false
		for _, p := range paths {
			if p == w {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("missing candidate %s", w)
		}
	}

	// /tmp from TMPDIR and the fallback is only listed once
	count := 0
	for _, p := range paths {
		if p == filepath.Join("/tmp", "discord-ipc-0") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("/tmp/discord-ipc-0 listed %d times, want 1", count)
	}
	if paths[0] != "/run/user/1000/discord-ipc-0" {
		t.Errorf("first candidate = %s, want the runtime dir", paths[0])
	}
}

func TestDialSocket_NoCandidates(t *testing.T) {
	if _, err := dialSocket([]string{filepath.Join(t.TempDir(), "discord-ipc-0")}); err == nil {
		t.Error("expected error when no socket exists")
	}
}
