package mcp

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// defaultTimeRange returns start/end defaulting to the last 30 days.
func defaultTimeRange(startStr, endStr string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if endStr != "" {
		end, err = parseFlexTime(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		end = time.Now()
	}

	if startStr != "" {
		start, err = parseFlexTime(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
	} else {
		start = end.AddDate(0, 0, -30)
	}

	return start, end, nil
}

func parseFlexTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	t, err = time.Parse("2006-01-02", s)
	if err == nil {
		return t, nil
	}
	return time.Time{}, err
}

// --- Tool definitions ---

var toolGetSessionStatus = mcp.NewTool("get_session_status",
	mcp.WithDescription("Current session state: connected device, selected program, segment progress, latest measurement (duration s, distance m, strokes, speed cm/s, stroke rate spm, pulse bpm) and limit deviations."),
)

var toolListPrograms = mcp.NewTool("list_programs",
	mcp.WithDescription("List stored training programs. Each segment has one target (duration s, distance m or strokes) and optional limits (minimum speed and stroke rate, maximum pulse). A segment without target is free and only ends on deselection."),
)

var toolSelectProgram = mcp.NewTool("select_program",
	mcp.WithDescription("Select a training program for the current and future sessions. Selecting starts the program from its first segment, even when it was selected already."),
	mcp.WithString("program", mcp.Required(), mcp.Description("Program id or name (case-insensitive)")),
)

var toolDeselectProgram = mcp.NewTool("deselect_program",
	mcp.WithDescription("Clear the selected program. A running session keeps measuring without a program."),
)

var toolStartSession = mcp.NewTool("start_session",
	mcp.WithDescription("Connect to a rowing machine and start a session. A running session is replaced."),
	mcp.WithString("device", mcp.Description("Serial device path (e.g. /dev/ttyACM0). Defaults to the configured device or the simulator.")),
)

var toolStopSession = mcp.NewTool("stop_session",
	mcp.WithDescription("Stop the running session and disconnect the rowing machine."),
)

var toolGetWorkouts = mcp.NewTool("get_workouts",
	mcp.WithDescription("Query recorded workouts. Returns summaries including program, duration, distance, strokes, segments completed and heart rate."),
	mcp.WithString("start", mcp.Description("Start date (ISO 8601 or YYYY-MM-DD). Defaults to 30 days ago.")),
	mcp.WithString("end", mcp.Description("End date (ISO 8601 or YYYY-MM-DD). Defaults to now.")),
)

// --- Tool handlers ---

func (h *handlers) getSessionStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := h.b.Status(ctx)
	if err != nil {
		h.log.Error("mcp get_session_status", "error", err)
		return mcp.NewToolResultError("status failed: " + err.Error()), nil
	}
	return jsonResult(st)
}

func (h *handlers) listPrograms(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	programs, err := h.b.Programs(ctx)
	if err != nil {
		h.log.Error("mcp list_programs", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(programs)
}

func (h *handlers) selectProgram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref, err := req.RequireString("program")
	if err != nil {
		return mcp.NewToolResultError("program parameter is required"), nil
	}

	id, err := h.resolveProgram(ctx, ref)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	st, err := h.b.SelectProgram(ctx, id)
	if err != nil {
		h.log.Error("mcp select_program", "program", ref, "error", err)
		return mcp.NewToolResultError("select failed: " + err.Error()), nil
	}
	return jsonResult(st)
}

// resolveProgram finds a program by id or by name.
func (h *handlers) resolveProgram(ctx context.Context, ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	programs, err := h.b.Programs(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	for _, p := range programs {
		if strings.EqualFold(p.Name, ref) {
			return p.ID, nil
		}
	}
	return uuid.Nil, errors.New("no program named " + ref)
}

func (h *handlers) deselectProgram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.b.Deselect(ctx); err != nil {
		h.log.Error("mcp deselect_program", "error", err)
		return mcp.NewToolResultError("deselect failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText("program deselected"), nil
}

func (h *handlers) startSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := h.b.StartSession(ctx, req.GetString("device", ""))
	if err != nil {
		h.log.Error("mcp start_session", "error", err)
		return mcp.NewToolResultError("start failed: " + err.Error()), nil
	}
	return jsonResult(st)
}

func (h *handlers) stopSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.b.StopSession(ctx); err != nil {
		h.log.Error("mcp stop_session", "error", err)
		return mcp.NewToolResultError("stop failed: " + err.Error()), nil
	}
	return mcp.NewToolResultText("session stopping"), nil
}

func (h *handlers) getWorkouts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start, end, err := defaultTimeRange(req.GetString("start", ""), req.GetString("end", ""))
	if err != nil {
		return mcp.NewToolResultError("invalid date format: " + err.Error()), nil
	}

	workouts, err := h.b.Workouts(ctx, start, end)
	if err != nil {
		if errors.Is(err, ErrNoHistory) {
			return mcp.NewToolResultError(err.Error()), nil
		}
		h.log.Error("mcp get_workouts", "error", err)
		return mcp.NewToolResultError("query failed: " + err.Error()), nil
	}
	return jsonResult(workouts)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(v)
	if err != nil {
		return mcp.NewToolResultError("serialization failed"), nil
	}
	return result, nil
}
