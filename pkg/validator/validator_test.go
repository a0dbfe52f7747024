package validator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"naming_events/pkg/config"
	"naming_events/pkg/event"
	"naming_events/pkg/oracle"
)

func newTestValidator(t *testing.T, o NameOracle) *Validator {
	v, err := NewValidator(config.ValidationConfig{
		MinLength:     3,
		MaxLength:     20,
		ReservedNames: []string{"sakura", "cherry", "bamboo", "maple", "pine", "palm", "cedar"},
	}, o)
	require.NoError(t, err)
	return v
}

func TestValidate(t *testing.T) {
	v := newTestValidator(t, oracle.NewStatic("willow", "birch"))
	candidates := map[string]event.Candidate{
		"u2": {ID: "c2", Name: "elm", SubmitterID: "u2"},
	}

	tests := []struct {
		name      string
		input     string
		submitter string
		want      string
		wantErr   bool
		errSubstr string
	}{
		{name: "Valid", input: "oak", submitter: "u1", want: "oak"},
		{name: "Normalized", input: "  Aspen ", submitter: "u1", want: "aspen"},
		{name: "MaxLength", input: "abcdefghijklmnopqrst", submitter: "u1", want: "abcdefghijklmnopqrst"},
		{name: "TooShort", input: "ab", submitter: "u1", wantErr: true, errSubstr: "between 3 and 20"},
		{name: "TooLong", input: "abcdefghijklmnopqrstu", submitter: "u1", wantErr: true, errSubstr: "between 3 and 20"},
		{name: "Digits", input: "oak2", submitter: "u1", wantErr: true, errSubstr: "only lowercase letters"},
		{name: "Whitespace", input: "big oak", submitter: "u1", wantErr: true, errSubstr: "only lowercase letters"},
		{name: "Punctuation", input: "oak-tree", submitter: "u1", wantErr: true, errSubstr: "only lowercase letters"},
		{name: "NonASCII", input: "éclair", submitter: "u1", wantErr: true, errSubstr: "only lowercase letters"},
		{name: "Reserved", input: "Maple", submitter: "u1", wantErr: true, errSubstr: "reserved"},
		{name: "ClaimedByOther", input: "ELM", submitter: "u1", wantErr: true, errSubstr: "already been submitted"},
		{name: "OwnResubmission", input: "elm", submitter: "u2", want: "elm"},
		{name: "InOracle", input: "willow", submitter: "u1", wantErr: true, errSubstr: "already in use"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(context.Background(), tt.input, tt.submitter, candidates)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, event.IsValidation(err), "want ValidationError, got %T", err)
				assert.Contains(t, err.Error(), tt.errSubstr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateFailsClosedWhenOracleDown(t *testing.T) {
	v := newTestValidator(t, oracle.Failing(errors.New("connection refused")))

	_, err := v.Validate(context.Background(), "oak", "u1", nil)
	require.Error(t, err)
	assert.True(t, event.IsExternal(err))
	assert.False(t, event.IsValidation(err))
}

func TestStaticRulesSkipOracle(t *testing.T) {
	v := newTestValidator(t, oracle.Failing(errors.New("should not be called")))

	_, err := v.Validate(context.Background(), "x", "u1", nil)
	assert.True(t, event.IsValidation(err))
}

func TestNewValidatorRejectsBadConfig(t *testing.T) {
	_, err := NewValidator(config.ValidationConfig{MinLength: 5, MaxLength: 3}, oracle.NewStatic())
	assert.Error(t, err)

	_, err = NewValidator(config.ValidationConfig{MinLength: 3, MaxLength: 20}, nil)
	assert.Error(t, err)
}
