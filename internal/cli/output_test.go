package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncspace/internal/reading"
	"github.com/roach88/syncspace/internal/source"
	"github.com/roach88/syncspace/internal/space"
	"github.com/roach88/syncspace/internal/thing"
)

const testURL = "https://a.example"

// decodeEnvelope parses one JSON envelope with Data left raw.
func decodeEnvelope(t *testing.T, buf *bytes.Buffer) (CLIResponse, json.RawMessage) {
	t.Helper()
	var raw struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &raw))
	return raw.CLIResponse, raw.Data
}

func TestFail_NotFoundEnvelope(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &OutputFormatter{Format: "json", Writer: buf}

	err := fail(out, ExitFailure, CodeNotFound, "no Item for template", source.ErrNotFound)

	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, source.ErrNotFound)
	resp, _ := decodeEnvelope(t, buf)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
	assert.Equal(t, "no Item for template", resp.Error.Message)
	assert.Equal(t, source.ErrNotFound.Error(), resp.Error.Details)
}

func TestFail_WithoutCause(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &OutputFormatter{Format: "json", Writer: buf}

	err := fail(out, ExitCommandError, CodeRemote, "no remote configured", nil)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "no remote configured", err.Error())
	resp, _ := decodeEnvelope(t, buf)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRemote, resp.Error.Code)
	assert.Nil(t, resp.Error.Details)
}

func TestFail_TextDetailsOnlyWhenVerbose(t *testing.T) {
	cause := fmt.Errorf("%w: item_add needs url", reading.ErrBadArgs)
	for _, verbose := range []bool{false, true} {
		t.Run(fmt.Sprintf("verbose=%v", verbose), func(t *testing.T) {
			buf := &bytes.Buffer{}
			out := &OutputFormatter{Format: "text", Writer: buf, Verbose: verbose}

			err := fail(out, ExitFailure, CodeAction, "action rejected", cause)
			assert.ErrorIs(t, err, reading.ErrBadArgs)

			want := "Error [E004]: action rejected\n"
			if verbose {
				want += "Details: " + cause.Error() + "\n"
			}
			assert.Equal(t, want, buf.String())
		})
	}
}

func TestSuccess_ThingView(t *testing.T) {
	item := reading.Item(testURL, thing.F("title", thing.String("A")), thing.F("favorite", thing.Bool(true)))

	buf := &bytes.Buffer{}
	out := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, out.Success(thingView{item}))
	resp, data := decodeEnvelope(t, buf)
	assert.Equal(t, "ok", resp.Status)
	var obj map[string]any
	require.NoError(t, json.Unmarshal(data, &obj))
	assert.Equal(t, map[string]any{
		"_type":     "Item",
		"given_url": testURL,
		"title":     "A",
		"favorite":  true,
	}, obj)

	text := &bytes.Buffer{}
	out = &OutputFormatter{Format: "text", Writer: text}
	require.NoError(t, out.Success(thingView{item}))
	canonical, err := item.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, string(canonical)+"\n", text.String())
}

func sampleReport() *source.Report {
	add := thing.NewAction(reading.ActionAdd, 1, reading.Add(testURL, "A"), thing.WithPriority(thing.PriorityHigh))
	fav := thing.NewAction(reading.ActionFavorite, 2, reading.URL(testURL))
	return &source.Report{
		Outcomes: []source.Outcome{
			{Action: add, Status: source.Success, Result: reading.Item(testURL, thing.F("title", thing.String("A")))},
			{Action: fav, Status: source.Failure, Err: errors.New("offline")},
		},
		QueryErr: errors.New("offline"),
	}
}

func TestSuccess_ReportView(t *testing.T) {
	buf := &bytes.Buffer{}
	out := &OutputFormatter{Format: "json", Writer: buf}
	require.NoError(t, out.Success(newReportView(sampleReport())))

	_, data := decodeEnvelope(t, buf)
	var got struct {
		Outcomes []struct {
			Action   string         `json:"action"`
			Priority string         `json:"priority"`
			Status   string         `json:"status"`
			Error    string         `json:"error"`
			Result   map[string]any `json:"result"`
		} `json:"outcomes"`
		Query    map[string]any `json:"query"`
		QueryErr string         `json:"query_error"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got.Outcomes, 2)
	assert.Equal(t, reading.ActionAdd, got.Outcomes[0].Action)
	assert.Equal(t, "high", got.Outcomes[0].Priority)
	assert.Equal(t, "success", got.Outcomes[0].Status)
	assert.Equal(t, "A", got.Outcomes[0].Result["title"])
	assert.Equal(t, "failure", got.Outcomes[1].Status)
	assert.Equal(t, "offline", got.Outcomes[1].Error)
	assert.Nil(t, got.Outcomes[1].Result)
	assert.Nil(t, got.Query)
	assert.Equal(t, "offline", got.QueryErr)
}

func TestReportView_Text(t *testing.T) {
	rep := sampleReport()
	assert.Equal(t,
		"0 item_add [high] success\n1 item_favorite [normal] failure: offline\nquery error: offline",
		newReportView(rep).String())

	rep.QueryErr = nil
	assert.Contains(t, newReportView(rep).String(), "\nno query")

	rep.Query = reading.Saves(reading.StatusUnread, thing.F("total", thing.Int(1)))
	assert.Contains(t, newReportView(rep).String(), "\nquery: {")
}

func TestHoldersView(t *testing.T) {
	assert.Equal(t, "no holders", newHoldersView(nil).String())

	v := newHoldersView([]space.HolderInfo{
		{Holder: space.PersistentHolder("lists"), Claims: 2},
		{Holder: space.SessionHolder("cli"), Claims: 1},
	})
	assert.Equal(t, holdersView{
		{Name: "lists", Kind: "persistent", Claims: 2},
		{Name: "cli", Kind: "session", Claims: 1},
	}, v)
	assert.Equal(t, fmt.Sprintf("%-10s %-30s %d\n%-10s %-30s %d", "persistent", "lists", 2, "session", "cli", 1), v.String())
}

func TestOutputFormatter_VerboseGoesToErrWriter(t *testing.T) {
	out, diag := &bytes.Buffer{}, &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: true}

	formatter.VerboseLog("restored %d records", 3)
	require.NoError(t, formatter.Success(map[string]int{"evicted": 3}))

	assert.Equal(t, "restored 3 records\n", diag.String())
	resp, _ := decodeEnvelope(t, out)
	assert.Equal(t, "ok", resp.Status)

	quiet := &bytes.Buffer{}
	(&OutputFormatter{Format: "text", Writer: quiet}).VerboseLog("hidden")
	assert.Empty(t, quiet.String())
}

func TestExitCodes(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flag")))

	cause := errors.New("disk full")
	wrapped := fmt.Errorf("imprint: %w", WrapExitError(ExitFailure, "failed to persist", cause))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, "imprint: failed to persist: disk full", wrapped.Error())
}
