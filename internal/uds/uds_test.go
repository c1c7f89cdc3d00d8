package uds

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func startServer(t *testing.T) (*Server, string) {
	t.Helper()
	socketPath := filepath.Join(t.TempDir(), DefaultSocketName)
	srv := NewServer(socketPath, nil)
	srv.SetConnTimeout(5 * time.Second)
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, socketPath
}

func TestRoundTrip(t *testing.T) {
	srv, socketPath := startServer(t)
	srv.Handle("ping", func(req *Request) *Response {
		return SuccessResponse(map[string]string{"status": "ok"})
	})

	client := NewClient(socketPath)
	client.SetTimeout(5 * time.Second)

	resp, err := client.SendCommand("ping", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got error: %+v", resp.Error)
	}

	var data map[string]string
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["status"] != "ok" {
		t.Errorf("expected status ok, got %q", data["status"])
	}
}

func TestParamsDelivered(t *testing.T) {
	srv, socketPath := startServer(t)
	srv.Handle("resolve", func(req *Request) *Response {
		var params struct {
			EscalationID string `json:"escalation_id"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return ErrorResponse(ErrCodeValidation, err.Error())
		}
		return SuccessResponse(map[string]string{"escalation_id": params.EscalationID})
	})

	client := NewClient(socketPath)
	resp, err := client.SendCommand("resolve", map[string]string{"escalation_id": "esc_1"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success, got %+v", resp.Error)
	}

	var data map[string]string
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data["escalation_id"] != "esc_1" {
		t.Errorf("params not echoed back: %v", data)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, socketPath := startServer(t)

	client := NewClient(socketPath)
	resp, err := client.SendCommand("nonsense", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Success {
		t.Fatal("expected failure for unknown command")
	}
	if resp.Error.Code != ErrCodeUnknownCommand {
		t.Errorf("expected %s, got %s", ErrCodeUnknownCommand, resp.Error.Code)
	}
}

func TestProtocolMismatch(t *testing.T) {
	srv, socketPath := startServer(t)
	srv.Handle("ping", func(req *Request) *Response {
		return SuccessResponse(nil)
	})

	client := NewClient(socketPath)
	resp, err := client.Send(&Request{ProtocolVersion: 99, Command: "ping"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.Success || resp.Error.Code != ErrCodeProtocolMismatch {
		t.Fatalf("expected protocol mismatch, got %+v", resp)
	}
}

func TestClientErrorWhenDaemonDown(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), DefaultSocketName)

	client := NewClient(socketPath)
	client.SetTimeout(time.Second)
	if _, err := client.SendCommand("ping", nil); err == nil {
		t.Fatal("expected connect error with no server")
	}
}

func TestStopRemovesSocket(t *testing.T) {
	srv, socketPath := startServer(t)
	srv.Stop()

	client := NewClient(socketPath)
	client.SetTimeout(time.Second)
	if _, err := client.SendCommand("ping", nil); err == nil {
		t.Fatal("expected error after server stop")
	}
}
