// internal/processor/safety_test.go
package processor

import (
	"strings"
	"testing"

	"github.com/seanankenbruck/kql-resolver/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafetyChecker(t *testing.T) {
	sc := NewSafetyChecker()

	require.NotNil(t, sc)
	assert.True(t, sc.Enabled)
	assert.Equal(t, 10000, sc.MaxTemplateLength)
	assert.Contains(t, sc.ForbiddenCommands, ".drop")
	assert.Contains(t, sc.ForbiddenCommands, ".set")
}

func TestValidateTemplate(t *testing.T) {
	sc := NewSafetyChecker()
	sc.MaxTemplateLength = 20

	assert.NoError(t, sc.ValidateTemplate("Heartbeat | take 10"))

	err := sc.ValidateTemplate(strings.Repeat("x", 21))
	require.Error(t, err)
	enhanced, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, errors.ErrCodeQueryTooLong, enhanced.Code)
	assert.Equal(t, 21, enhanced.Metadata["length"])

	sc.Enabled = false
	assert.NoError(t, sc.ValidateTemplate(strings.Repeat("x", 21)))
}

func TestValidateQuery(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantErr     bool
		errContains string
	}{
		{
			name:  "plain query",
			query: "Heartbeat | where TimeGenerated >= ago(1h) | summarize count() by Computer",
		},
		{
			name:  "read-only control command",
			query: ".show tables",
		},
		{
			name:        "drop table",
			query:       ".drop table Heartbeat",
			wantErr:     true,
			errContains: ".drop",
		},
		{
			name:        "compound set command",
			query:       ".set-or-append Target <| Source",
			wantErr:     true,
			errContains: ".set-or-append",
		},
		{
			name:        "upper case",
			query:       ".DROP TABLE T",
			wantErr:     true,
			errContains: ".drop",
		},
		{
			name:        "second statement",
			query:       "Heartbeat | take 1;\n  .delete table T records <| T",
			wantErr:     true,
			errContains: ".delete",
		},
		{
			name:        "after semicolon on one line",
			query:       "print 1; .purge table T",
			wantErr:     true,
			errContains: ".purge",
		},
		{
			name:  "dot inside string literal",
			query: "print 'a; .drop table T'",
		},
		{
			name:  "dot inside comment",
			query: "Heartbeat // ; .drop table T\n| take 1",
		},
		{
			name:  "dotted function call is not a statement",
			query: "Heartbeat | extend x = todynamic(Props).name",
		},
		{
			name:        "unterminated verbatim string does not hide the next line",
			query:       "print @'C:\\temp\\'x\n.drop table T",
			wantErr:     true,
			errContains: ".drop",
		},
		{
			name:        "escaped quote inside string",
			query:       "print 'it\\'s'; .alter table T",
			wantErr:     true,
			errContains: ".alter",
		},
	}

	sc := NewSafetyChecker()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sc.ValidateQuery(tt.query)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			enhanced, ok := errors.As(err)
			require.True(t, ok)
			assert.Equal(t, errors.ErrCodeUnsafeQuery, enhanced.Code)
			assert.Equal(t, tt.errContains, enhanced.Metadata["command"])
		})
	}
}

func TestValidateQueryDisabled(t *testing.T) {
	sc := NewSafetyChecker()
	sc.Enabled = false
	assert.NoError(t, sc.ValidateQuery(".drop table T"))
}

func TestControlCommands(t *testing.T) {
	got := ControlCommands(".show tables\nHeartbeat | take 1\n.create-merge table T (a:int)")
	assert.Equal(t, []string{".show", ".create-merge"}, got)

	sc := NewSafetyChecker()
	assert.True(t, sc.isForbidden(".create-merge"))
	assert.False(t, sc.isForbidden(".show"))
	assert.False(t, sc.isForbidden(".settings"), "prefix must end at a dash")
}
