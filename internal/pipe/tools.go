package pipe

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golnet1/majordomo-bridge/internal/catalog"
	"github.com/golnet1/majordomo-bridge/internal/channels/scheduler"
	"github.com/golnet1/majordomo-bridge/internal/infrastructure/logging"
	"github.com/golnet1/majordomo-bridge/internal/router"
)

// switchCategories are tried first when a tool targets a switchable device.
var switchCategories = []string{"свет", "устройства"}

// ttsRoom is where spoken feedback goes when the agent does not say.
const ttsRoom = "комната отдыха"

// Dispatcher is the router surface tools dispatch through.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent router.CommandIntent) router.CommandResult
}

// RoomLister reads room metadata from the controller.
type RoomLister interface {
	ListRooms(ctx context.Context) (json.RawMessage, error)
	GetRoom(ctx context.Context, id string) (json.RawMessage, error)
}

// Tools is the MCP tool registry backing tools/list and tools/call.
type Tools struct {
	dispatcher Dispatcher
	catalog    *catalog.Store
	schedule   *scheduler.Store
	rooms      RoomLister
	logger     *logging.Logger
}

// NewTools wires the tool registry. rooms may be nil to hide the room tools.
func NewTools(dispatcher Dispatcher, cat *catalog.Store, schedule *scheduler.Store, rooms RoomLister, logger *logging.Logger) *Tools {
	return &Tools{
		dispatcher: dispatcher,
		catalog:    cat,
		schedule:   schedule,
		rooms:      rooms,
		logger:     logger.With("component", "mcp_tools"),
	}
}

// toolDef is one entry of the tools/list result.
type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// schema builds a minimal JSON schema object for tool inputs.
func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// List returns the tool definitions advertised to the agent.
func (t *Tools) List() []toolDef {
	defs := []toolDef{
		{
			Name:        "control_device",
			Description: "Включить или выключить устройство по имени (свет, насос, розетка). Пример: включи свет на улице.",
			InputSchema: schema([]string{"device_query", "action"}, map[string]any{
				"device_query": strProp("Название устройства или места"),
				"action":       strProp("включи или выключи"),
				"tts_feedback": map[string]any{"type": "boolean", "description": "Озвучить результат"},
			}),
		},
		{
			Name:        "get_device_status",
			Description: "Узнать, включено ли устройство.",
			InputSchema: schema([]string{"device_query"}, map[string]any{
				"device_query": strProp("Название устройства или места"),
				"tts_feedback": map[string]any{"type": "boolean"},
			}),
		},
		{
			Name:        "get_sensor_value",
			Description: "Прочитать значение сенсора (температура, влажность, давление).",
			InputSchema: schema([]string{"sensor_query"}, map[string]any{
				"sensor_query": strProp("Название сенсора или места"),
				"unit":         strProp("Единица для озвучивания: градусов, процентов"),
				"tts_feedback": map[string]any{"type": "boolean"},
			}),
		},
		{
			Name:        "set_device_parameter",
			Description: "Установить параметр устройства, например целевую температуру.",
			InputSchema: schema([]string{"device_query", "parameter", "value"}, map[string]any{
				"device_query": strProp("Название устройства"),
				"parameter":    strProp("Имя параметра"),
				"value":        strProp("Новое значение"),
				"tts_feedback": map[string]any{"type": "boolean"},
			}),
		},
		{
			Name:        "run_script",
			Description: "Запустить сценарий MajorDoMo по имени.",
			InputSchema: schema([]string{"script_name"}, map[string]any{
				"script_name":  strProp("Имя сценария"),
				"tts_feedback": map[string]any{"type": "boolean"},
			}),
		},
		{
			Name:        "get_property",
			Description: "Технический метод: прочитать свойство object.property напрямую.",
			InputSchema: schema([]string{"object", "property"}, map[string]any{
				"object":   strProp("Объект MajorDoMo"),
				"property": strProp("Свойство объекта"),
			}),
		},
		{
			Name:        "set_property",
			Description: "Технический метод: установить свойство object.property напрямую.",
			InputSchema: schema([]string{"object", "property", "value"}, map[string]any{
				"object":   strProp("Объект MajorDoMo"),
				"property": strProp("Свойство объекта"),
				"value":    strProp("Новое значение"),
			}),
		},
		{
			Name:        "list_devices",
			Description: "Список всех известных устройств и сенсоров.",
			InputSchema: schema(nil, map[string]any{}),
		},
		{
			Name:        "add_scheduler_task",
			Description: "Добавить задание планировщика на время HH:MM.",
			InputSchema: schema([]string{"time_str", "device", "action"}, map[string]any{
				"time_str": strProp("Время в формате HH:MM"),
				"device":   strProp("Название устройства"),
				"action":   strProp("включи или выключи"),
				"repeat_days": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Дни недели mon..sun; пусто для одноразового",
				},
			}),
		},
		{
			Name:        "add_temporary_scheduler_task",
			Description: "Добавить одноразовое задание через N минут.",
			InputSchema: schema([]string{"minutes_from_now", "device", "action"}, map[string]any{
				"minutes_from_now": map[string]any{"type": "integer", "description": "Минуты до срабатывания"},
				"device":           strProp("Название устройства"),
				"action":           strProp("включи или выключи"),
			}),
		},
		{
			Name:        "delete_scheduler_task",
			Description: "Удалить задание планировщика по ID.",
			InputSchema: schema([]string{"task_id"}, map[string]any{
				"task_id": strProp("ID задания"),
			}),
		},
		{
			Name:        "delete_all_scheduler_tasks",
			Description: "Удалить все задания планировщика.",
			InputSchema: schema(nil, map[string]any{}),
		},
		{
			Name:        "list_scheduler_tasks",
			Description: "Показать активные задания планировщика.",
			InputSchema: schema(nil, map[string]any{}),
		},
	}

	if t.rooms != nil {
		defs = append(defs,
			toolDef{
				Name:        "list_rooms",
				Description: "Список комнат из MajorDoMo.",
				InputSchema: schema(nil, map[string]any{}),
			},
			toolDef{
				Name:        "get_room",
				Description: "Детали комнаты по ID.",
				InputSchema: schema([]string{"room_id"}, map[string]any{
					"room_id": strProp("ID комнаты"),
				}),
			},
		)
	}

	return defs
}

// errUnknownTool marks a tools/call for a name List never advertised.
type errUnknownTool struct{ name string }

func (e errUnknownTool) Error() string {
	return fmt.Sprintf("unknown tool %q", e.name)
}

// Call executes one tool and returns its JSON-able payload. The second
// return reports whether the payload describes a failure. correlationID is
// derived from the JSON-RPC frame id by the caller.
func (t *Tools) Call(ctx context.Context, name string, args json.RawMessage, correlationID string) (any, bool, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	switch name {
	case "control_device":
		return t.controlDevice(ctx, args, correlationID)
	case "get_device_status":
		return t.getDeviceStatus(ctx, args, correlationID)
	case "get_sensor_value":
		return t.getSensorValue(ctx, args, correlationID)
	case "set_device_parameter":
		return t.setDeviceParameter(ctx, args, correlationID)
	case "run_script":
		return t.runScript(ctx, args, correlationID)
	case "get_property":
		return t.getProperty(ctx, args, correlationID)
	case "set_property":
		return t.setProperty(ctx, args, correlationID)
	case "list_devices":
		return t.listDevices()
	case "add_scheduler_task":
		return t.addSchedulerTask(args)
	case "add_temporary_scheduler_task":
		return t.addTemporaryTask(args)
	case "delete_scheduler_task":
		return t.deleteSchedulerTask(args)
	case "delete_all_scheduler_tasks":
		return t.deleteAllSchedulerTasks()
	case "list_scheduler_tasks":
		return t.listSchedulerTasks()
	case "list_rooms":
		return t.listRooms(ctx)
	case "get_room":
		return t.getRoom(ctx, args)
	default:
		return nil, false, errUnknownTool{name: name}
	}
}

// resultPayload converts a dispatch result into the original tool payload
// shape the agent prompt was written against.
func resultPayload(res router.CommandResult, okPayload map[string]any) (map[string]any, bool) {
	switch res.Status {
	case router.StatusOK:
		return okPayload, false
	case router.StatusAmbiguous:
		names := make([]string, 0, len(res.Candidates))
		for _, c := range res.Candidates {
			names = append(names, fmt.Sprintf("%s (%s)", c.Alias, c.Category))
		}
		return map[string]any{
			"error":      "Найдено несколько устройств, уточните: " + strings.Join(names, ", "),
			"candidates": res.Candidates,
		}, true
	case router.StatusNotFound:
		return map[string]any{"error": res.Error}, true
	default:
		return map[string]any{"error": "MajorDoMo error: " + res.Error}, true
	}
}

// announce speaks feedback through the default room speaker. Failures are
// logged and swallowed; feedback never fails a command.
func (t *Tools) announce(ctx context.Context, text string) {
	res := t.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mcp",
		User:          "xiaozhi",
		Action:        router.ActionSay,
		Target:        ttsRoom,
		Value:         text,
		Kind:          catalog.KindMedia,
		CategoryHints: []string{"колонки"},
	})
	if res.Status != router.StatusOK {
		t.logger.Debug("tts feedback skipped", "status", string(res.Status), "error", res.Error)
	}
}

// switchValue maps a spoken action to a relay value. The empty string
// means the action was not recognized.
func switchValue(action string) string {
	a := strings.ToLower(strings.TrimSpace(action))
	onWords := []string{"включи", "включить", "on", "1", "да", "зажги", "активируй"}
	offWords := []string{"выключи", "выключить", "off", "0", "нет", "потуши", "деактивируй"}
	for _, w := range onWords {
		if strings.Contains(a, w) {
			return "1"
		}
	}
	for _, w := range offWords {
		if strings.Contains(a, w) {
			return "0"
		}
	}
	return ""
}

func (t *Tools) controlDevice(ctx context.Context, args json.RawMessage, correlationID string) (any, bool, error) {
	var p struct {
		DeviceQuery string `json:"device_query"`
		Action      string `json:"action"`
		TTSFeedback *bool  `json:"tts_feedback"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	value := switchValue(p.Action)
	if value == "" {
		return map[string]any{
			"error": fmt.Sprintf("Неизвестное действие: '%s'. Используйте 'включи' или 'выключи'.", p.Action),
		}, true, nil
	}
	stateWord := "включён"
	if value == "0" {
		stateWord = "выключен"
	}

	res := t.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mcp",
		CorrelationID: correlationID,
		User:          "xiaozhi",
		Action:        router.ActionWrite,
		Target:        p.DeviceQuery,
		Value:         value,
		Kind:          catalog.KindRelay,
		CategoryHints: switchCategories,
	})

	payload, isErr := resultPayload(res, map[string]any{
		"success": true,
		"target":  p.DeviceQuery,
		"state":   stateWord,
	})
	if isErr && res.Status == router.StatusNotFound {
		payload["available"] = t.catalog.Current().AliasesByKind(catalog.KindRelay)
	}

	if !isErr && (p.TTSFeedback == nil || *p.TTSFeedback) {
		t.announce(ctx, fmt.Sprintf("Свет в %s %s", p.DeviceQuery, stateWord))
	}
	return payload, isErr, nil
}

func (t *Tools) getDeviceStatus(ctx context.Context, args json.RawMessage, correlationID string) (any, bool, error) {
	var p struct {
		DeviceQuery string `json:"device_query"`
		TTSFeedback *bool  `json:"tts_feedback"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	res := t.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mcp",
		CorrelationID: correlationID,
		User:          "xiaozhi",
		Action:        router.ActionRead,
		Target:        p.DeviceQuery,
		Kind:          catalog.KindRelay,
		CategoryHints: switchCategories,
	})

	status := "выключено"
	if res.Response == "1" {
		status = "включено"
	}
	payload, isErr := resultPayload(res, map[string]any{
		"device":    p.DeviceQuery,
		"status":    status,
		"raw_value": res.Response,
	})
	if !isErr && (p.TTSFeedback == nil || *p.TTSFeedback) {
		t.announce(ctx, fmt.Sprintf("Свет в %s %s", p.DeviceQuery, status))
	}
	return payload, isErr, nil
}

// sensorHintCategories maps the spoken unit to preferred catalog sections.
func sensorHintCategories(unit, query string) []string {
	switch {
	case unit == "процентов" || strings.Contains(query, "влажность"):
		return []string{"сенсоры_влажность", "сенсоры_влажности"}
	case unit == "градусов" || unit == "°C" || unit == "°F":
		return []string{"сенсоры_температура", "сенсоры_температуры"}
	case unit == "давление" || unit == "бар" || unit == "паскаль" || unit == "па" || unit == "атм" || unit == "мм рт.ст.":
		return []string{"сенсоры_давление", "сенсоры_давления"}
	case unit == "ppm" || unit == "co2":
		return []string{"сенсоры_газ", "сенсоры_газа", "сенсоры_углекислый газ"}
	default:
		return nil
	}
}

func (t *Tools) getSensorValue(ctx context.Context, args json.RawMessage, correlationID string) (any, bool, error) {
	var p struct {
		SensorQuery string `json:"sensor_query"`
		Unit        string `json:"unit"`
		TTSFeedback *bool  `json:"tts_feedback"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	res := t.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mcp",
		CorrelationID: correlationID,
		User:          "xiaozhi",
		Action:        router.ActionRead,
		Target:        p.SensorQuery,
		Kind:          catalog.KindSensor,
		CategoryHints: sensorHintCategories(p.Unit, p.SensorQuery),
	})

	payload, isErr := resultPayload(res, map[string]any{
		"sensor": p.SensorQuery,
		"value":  res.Response,
		"unit":   p.Unit,
	})
	if isErr && res.Status == router.StatusNotFound {
		payload["available"] = t.catalog.Current().AliasesByKind(catalog.KindSensor)
	}
	if !isErr && (p.TTSFeedback == nil || *p.TTSFeedback) {
		t.announce(ctx, fmt.Sprintf("В %s %s %s", p.SensorQuery, res.Response, p.Unit))
	}
	return payload, isErr, nil
}

func (t *Tools) setDeviceParameter(ctx context.Context, args json.RawMessage, correlationID string) (any, bool, error) {
	var p struct {
		DeviceQuery string `json:"device_query"`
		Parameter   string `json:"parameter"`
		Value       string `json:"value"`
		TTSFeedback *bool  `json:"tts_feedback"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	res := t.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mcp",
		CorrelationID: correlationID,
		User:          "xiaozhi",
		Action:        router.ActionWrite,
		Target:        p.DeviceQuery,
		Value:         p.Value,
		Kind:          catalog.KindDevice,
	})

	payload, isErr := resultPayload(res, map[string]any{
		"success":   true,
		"target":    p.DeviceQuery,
		"parameter": p.Parameter,
		"value":     p.Value,
	})
	if isErr && res.Status == router.StatusNotFound {
		payload["available"] = t.catalog.Current().AliasesByKind(catalog.KindDevice)
	}
	if !isErr && (p.TTSFeedback == nil || *p.TTSFeedback) {
		t.announce(ctx, fmt.Sprintf("Параметр %s в %s установлен на %s", p.Parameter, p.DeviceQuery, p.Value))
	}
	return payload, isErr, nil
}

func (t *Tools) runScript(ctx context.Context, args json.RawMessage, correlationID string) (any, bool, error) {
	var p struct {
		ScriptName  string `json:"script_name"`
		TTSFeedback *bool  `json:"tts_feedback"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	res := t.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mcp",
		CorrelationID: correlationID,
		User:          "xiaozhi",
		Action:        router.ActionScript,
		Target:        p.ScriptName,
	})

	payload, isErr := resultPayload(res, map[string]any{
		"success": true,
		"script":  p.ScriptName,
	})
	if !isErr && (p.TTSFeedback == nil || *p.TTSFeedback) {
		t.announce(ctx, fmt.Sprintf("Сценарий %s запущен", p.ScriptName))
	}
	return payload, isErr, nil
}

func (t *Tools) getProperty(ctx context.Context, args json.RawMessage, correlationID string) (any, bool, error) {
	var p struct {
		Object   string `json:"object"`
		Property string `json:"property"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	res := t.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mcp",
		CorrelationID: correlationID,
		User:          "xiaozhi",
		Action:        router.ActionRead,
		Object:        p.Object,
		Property:      p.Property,
	})

	payload, isErr := resultPayload(res, map[string]any{"value": res.Response})
	return payload, isErr, nil
}

func (t *Tools) setProperty(ctx context.Context, args json.RawMessage, correlationID string) (any, bool, error) {
	var p struct {
		Object   string `json:"object"`
		Property string `json:"property"`
		Value    string `json:"value"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	res := t.dispatcher.Dispatch(ctx, router.CommandIntent{
		Channel:       "mcp",
		CorrelationID: correlationID,
		User:          "xiaozhi",
		Action:        router.ActionWrite,
		Object:        p.Object,
		Property:      p.Property,
		Value:         p.Value,
	})

	payload, isErr := resultPayload(res, map[string]any{"success": true})
	return payload, isErr, nil
}

func (t *Tools) listDevices() (any, bool, error) {
	cat := t.catalog.Current()
	seen := make(map[string]struct{})
	var devices []string
	for _, e := range cat.Entries() {
		for _, a := range e.Aliases {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			devices = append(devices, a)
		}
	}
	return map[string]any{"devices": devices}, false, nil
}

func (t *Tools) addSchedulerTask(args json.RawMessage) (any, bool, error) {
	var p struct {
		TimeStr    string   `json:"time_str"`
		Device     string   `json:"device"`
		Action     string   `json:"action"`
		RepeatDays []string `json:"repeat_days"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	days := p.RepeatDays
	if len(days) == 0 {
		days = []string{"once"}
	}

	task, err := t.schedule.Add(scheduler.Task{
		Enabled:     true,
		Description: fmt.Sprintf("Голосовое задание: %s %s", p.Action, p.Device),
		Time:        p.TimeStr,
		Days:        days,
		Action: scheduler.TaskAction{
			Type:   "device",
			Device: p.Device,
			State:  p.Action,
		},
	})
	if err != nil {
		return map[string]any{"error": err.Error()}, true, nil
	}

	return map[string]any{
		"success": true,
		"task_id": task.ID,
		"message": fmt.Sprintf("Задание добавлено: %s %s в %s", p.Action, p.Device, p.TimeStr),
	}, false, nil
}

func (t *Tools) addTemporaryTask(args json.RawMessage) (any, bool, error) {
	var p struct {
		MinutesFromNow int    `json:"minutes_from_now"`
		Device         string `json:"device"`
		Action         string `json:"action"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}
	if p.MinutesFromNow <= 0 {
		return map[string]any{"error": "minutes_from_now должно быть больше нуля"}, true, nil
	}

	fireAt := time.Now().Add(time.Duration(p.MinutesFromNow) * time.Minute)
	task, err := t.schedule.Add(scheduler.Task{
		Enabled:     true,
		Description: fmt.Sprintf("Временное задание: %s %s через %d мин", p.Action, p.Device, p.MinutesFromNow),
		Time:        fireAt.Format("15:04"),
		Days:        []string{"once"},
		Action: scheduler.TaskAction{
			Type:   "device",
			Device: p.Device,
			State:  p.Action,
		},
	})
	if err != nil {
		return map[string]any{"error": err.Error()}, true, nil
	}

	return map[string]any{
		"success": true,
		"task_id": task.ID,
		"message": fmt.Sprintf("Задание добавлено: %s %s через %d минут", p.Action, p.Device, p.MinutesFromNow),
	}, false, nil
}

func (t *Tools) deleteSchedulerTask(args json.RawMessage) (any, bool, error) {
	var p struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	if err := t.schedule.Delete(p.TaskID); err != nil {
		return map[string]any{"error": err.Error()}, true, nil
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Задание '%s' удалено", p.TaskID),
	}, false, nil
}

func (t *Tools) deleteAllSchedulerTasks() (any, bool, error) {
	n, err := t.schedule.DeleteAll()
	if err != nil {
		return map[string]any{"error": err.Error()}, true, nil
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Все задания (%d) удалены", n),
	}, false, nil
}

func (t *Tools) listSchedulerTasks() (any, bool, error) {
	tasks, err := t.schedule.List()
	if err != nil {
		return map[string]any{"error": err.Error()}, true, nil
	}

	active := make([]scheduler.Task, 0, len(tasks))
	var lines []string
	for _, task := range tasks {
		if !task.Enabled {
			continue
		}
		active = append(active, task)
		desc := task.Description
		if desc == "" {
			desc = task.Action.State + " " + task.Action.Device
		}
		lines = append(lines, task.Time+" — "+desc)
	}

	message := "Нет активных заданий."
	if len(lines) > 0 {
		message = "Активные задания: " + strings.Join(lines, "; ")
	}
	return map[string]any{"tasks": active, "message": message}, false, nil
}

func (t *Tools) listRooms(ctx context.Context) (any, bool, error) {
	if t.rooms == nil {
		return map[string]any{"error": "rooms API недоступно"}, true, nil
	}
	doc, err := t.rooms.ListRooms(ctx)
	if err != nil {
		return map[string]any{"error": "MajorDoMo error: " + err.Error()}, true, nil
	}
	return map[string]any{"rooms": doc}, false, nil
}

func (t *Tools) getRoom(ctx context.Context, args json.RawMessage) (any, bool, error) {
	if t.rooms == nil {
		return map[string]any{"error": "rooms API недоступно"}, true, nil
	}

	var p struct {
		RoomID string `json:"room_id"`
	}
	if err := json.Unmarshal(args, &p); err != nil {
		return nil, false, fmt.Errorf("decoding arguments: %w", err)
	}

	doc, err := t.rooms.GetRoom(ctx, p.RoomID)
	if err != nil {
		return map[string]any{"error": "MajorDoMo error: " + err.Error()}, true, nil
	}
	return map[string]any{"room": doc}, false, nil
}
