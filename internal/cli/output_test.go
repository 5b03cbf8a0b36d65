package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sparsemap/internal/accesscontrol"
	"github.com/roach88/sparsemap/internal/repository"
	"github.com/roach88/sparsemap/internal/storage"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(recordView{"title": "hello"})
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   map[string]string `json:"data"`
	}
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]string{"title": "hello"}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error(ErrCodeStorage, "get failed", nil)
	require.NoError(t, err)

	var resp CLIResponse
	err = json.Unmarshal(buf.Bytes(), &resp)
	require.NoError(t, err)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeStorage, resp.Error.Code)
	assert.Equal(t, "get failed", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format:  "text",
		Writer:  buf,
		Verbose: true,
	}

	err := formatter.Error(ErrCodeGeneric, "failed", map[string]string{"row": "n:cn:doc"})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Error [E001]")
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:  "text",
				Writer:  buf,
				Verbose: tt.verbose,
			}

			formatter.VerboseLog("Opening %s", "store.db")

			if tt.wantLog {
				assert.Contains(t, buf.String(), "Opening store.db")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestOutputFormatter_Fail(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
		wantExit int
	}{
		{"access_denied", &accesscontrol.DeniedError{Zone: "authorizables", ID: "bob", Permission: accesscontrol.CanRead, User: "alice"}, ErrCodeAccessDenied, ExitFailure},
		{"credentials", fmt.Errorf("login alice: %w", repository.ErrInvalidCredentials), ErrCodeCredentials, ExitFailure},
		{"configuration", storage.NewConfigurationError("find", "no template"), ErrCodeConfiguration, ExitCommandError},
		{"connection", storage.NewConnectionError("open", "no schema", nil), ErrCodeConnection, ExitCommandError},
		{"storage", storage.NewStorageError("get", "n:cn:doc", errors.New("disk")), ErrCodeStorage, ExitCommandError},
		{"other", errors.New("boom"), ErrCodeGeneric, ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "text", Writer: buf}

			err := formatter.Fail("op failed", tt.err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))
			assert.ErrorIs(t, err, tt.err)
			assert.Contains(t, buf.String(), "Error ["+tt.wantCode+"]")
		})
	}
}

func TestRecordView_String(t *testing.T) {
	assert.Equal(t, "(empty)", recordView{}.String())
	assert.Equal(t, "a=1\nb=2", recordView{"b": "2", "a": "1"}.String())
	assert.Equal(t, "(no rows)", recordsView{}.String())
	assert.Equal(t, "a=1\n\nb=2", recordsView{{"a": "1"}, {"b": "2"}}.String())
}
