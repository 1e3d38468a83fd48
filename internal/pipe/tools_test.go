package pipe

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/golnet1/majordomo-bridge/internal/router"
)

func callTool(t *testing.T, tools *Tools, name, args string) (map[string]any, bool) {
	t.Helper()
	payload, isErr, err := tools.Call(context.Background(), name, json.RawMessage(args), "mcp-test")
	if err != nil {
		t.Fatalf("Call(%s): %v", name, err)
	}
	m, ok := payload.(map[string]any)
	if !ok {
		t.Fatalf("payload type %T, want map", payload)
	}
	return m, isErr
}

func TestUnknownToolName(t *testing.T) {
	tools := newTestTools(t, &mockDispatcher{})

	_, _, err := tools.Call(context.Background(), "restart_server", nil, "")
	var unknown errUnknownTool
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want errUnknownTool", err)
	}
}

func TestControlDeviceUnknownAction(t *testing.T) {
	disp := &mockDispatcher{}
	tools := newTestTools(t, disp)

	payload, isErr := callTool(t, tools, "control_device",
		`{"device_query":"улица","action":"подмигни"}`)

	if !isErr {
		t.Fatal("expected error payload for unknown action")
	}
	if payload["error"] == "" {
		t.Error("error message missing")
	}
	if len(disp.dispatched()) != 0 {
		t.Errorf("dispatched = %d, want 0", len(disp.dispatched()))
	}
}

func TestControlDeviceNotFoundListsAvailable(t *testing.T) {
	disp := &mockDispatcher{result: router.CommandResult{Status: router.StatusNotFound, Error: "no device matches гараж"}}
	tools := newTestTools(t, disp)

	payload, isErr := callTool(t, tools, "control_device",
		`{"device_query":"гараж","action":"включи","tts_feedback":false}`)

	if !isErr {
		t.Fatal("expected error payload")
	}
	if _, ok := payload["available"]; !ok {
		t.Error("available device list missing from not-found payload")
	}
}

func TestGetSensorValueUnitHints(t *testing.T) {
	disp := &mockDispatcher{}
	tools := newTestTools(t, disp)

	callTool(t, tools, "get_sensor_value",
		`{"sensor_query":"парная","unit":"процентов","tts_feedback":false}`)

	intents := disp.dispatched()
	if len(intents) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(intents))
	}
	hints := intents[0].CategoryHints
	if len(hints) == 0 || hints[0] != "сенсоры_влажность" {
		t.Errorf("hints = %v, want humidity categories first", hints)
	}
}

func TestSetPropertyBypassesResolution(t *testing.T) {
	disp := &mockDispatcher{}
	tools := newTestTools(t, disp)

	payload, isErr := callTool(t, tools, "set_property",
		`{"object":"Relay01","property":"status","value":"0"}`)

	if isErr {
		t.Fatalf("unexpected error payload: %v", payload)
	}
	got := disp.dispatched()[0]
	if got.Object != "Relay01" || got.Property != "status" || got.Value != "0" {
		t.Errorf("unexpected intent: %+v", got)
	}
}

func TestListDevices(t *testing.T) {
	tools := newTestTools(t, &mockDispatcher{})

	payload, isErr := callTool(t, tools, "list_devices", `{}`)
	if isErr {
		t.Fatalf("unexpected error: %v", payload)
	}

	devices, ok := payload["devices"].([]string)
	if !ok {
		t.Fatalf("devices type %T, want []string", payload["devices"])
	}
	found := false
	for _, d := range devices {
		if d == "улица" {
			found = true
		}
	}
	if !found {
		t.Errorf("devices = %v, want to contain улица", devices)
	}
}

func TestSchedulerToolsRoundTrip(t *testing.T) {
	tools := newTestTools(t, &mockDispatcher{})

	// Add without repeat_days defaults to a one-shot task.
	payload, isErr := callTool(t, tools, "add_scheduler_task",
		`{"time_str":"17:15","device":"улица","action":"включи"}`)
	if isErr {
		t.Fatalf("add failed: %v", payload)
	}
	taskID, _ := payload["task_id"].(string)
	if taskID == "" {
		t.Fatal("task_id missing")
	}

	tasks, err := tools.schedule.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || !tasks[0].Once() {
		t.Fatalf("expected one one-shot task, got %+v", tasks)
	}

	payload, isErr = callTool(t, tools, "list_scheduler_tasks", `{}`)
	if isErr {
		t.Fatalf("list failed: %v", payload)
	}
	if payload["message"] == "Нет активных заданий." {
		t.Error("active task not listed")
	}

	payload, isErr = callTool(t, tools, "delete_scheduler_task",
		`{"task_id":"`+taskID+`"}`)
	if isErr {
		t.Fatalf("delete failed: %v", payload)
	}

	tasks, err = tools.schedule.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 0 {
		t.Errorf("tasks after delete = %d, want 0", len(tasks))
	}
}

func TestAddSchedulerTaskInvalidTime(t *testing.T) {
	tools := newTestTools(t, &mockDispatcher{})

	payload, isErr := callTool(t, tools, "add_scheduler_task",
		`{"time_str":"25:99","device":"улица","action":"включи"}`)
	if !isErr {
		t.Fatalf("expected validation error, got %v", payload)
	}
}

func TestAddTemporarySchedulerTask(t *testing.T) {
	tools := newTestTools(t, &mockDispatcher{})

	payload, isErr := callTool(t, tools, "add_temporary_scheduler_task",
		`{"minutes_from_now":5,"device":"улица","action":"выключи"}`)
	if isErr {
		t.Fatalf("add failed: %v", payload)
	}

	tasks, err := tools.schedule.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || !tasks[0].Once() {
		t.Fatalf("expected one one-shot task, got %+v", tasks)
	}

	payload, isErr = callTool(t, tools, "delete_all_scheduler_tasks", `{}`)
	if isErr {
		t.Fatalf("delete all failed: %v", payload)
	}
	tasks, _ = tools.schedule.List()
	if len(tasks) != 0 {
		t.Errorf("tasks after delete all = %d, want 0", len(tasks))
	}
}
