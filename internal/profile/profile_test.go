package profile

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "plain", input: "pvp_kit1"},
		{name: "empty", input: "", wantErr: ErrInvalidName},
		{name: "space", input: "my kit", wantErr: ErrInvalidName},
		{name: "dash", input: "a-b", wantErr: ErrInvalidName},
		{name: "too long", input: "abcdefghijklmnopq", wantErr: ErrNameTooLong},
		{name: "at limit", input: "abcdefghijklmnop"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateName(tc.input, 16)
			if tc.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRecordCloneDoesNotShareState(t *testing.T) {
	orig := &Record{OwnerID: "o1", Name: "main", State: []byte{1, 2, 3}, CreatedAt: time.Unix(10, 0)}
	cp := orig.Clone()
	cp.State[0] = 9

	assert.Equal(t, byte(1), orig.State[0])
	assert.Equal(t, orig.CreatedAt, cp.CreatedAt)
	assert.Equal(t, "o1:main", cp.Key().String())
}

func TestMostRecentlyUsed(t *testing.T) {
	base := time.Unix(1000, 0)
	profiles := map[string]Record{
		"a": {Name: "a", LastUsedAt: base},
		"b": {Name: "b", LastUsedAt: base.Add(time.Minute)},
		"c": {Name: "c", LastUsedAt: base.Add(time.Minute)},
	}
	assert.Equal(t, "b", MostRecentlyUsed(profiles))
	assert.Equal(t, "", MostRecentlyUsed(nil))
}

func TestErrorTaxonomy(t *testing.T) {
	err := Restricted(ErrInCombat, 7)
	assert.ErrorIs(t, err, ErrRestricted)
	assert.ErrorIs(t, err, ErrInCombat)
	assert.Contains(t, err.Error(), "7s remaining")

	var re *RestrictionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, 7, re.RemainingSeconds)

	perr := &PersistenceError{Op: "save", Attempts: 3, Err: errors.New("disk full")}
	assert.ErrorIs(t, perr, ErrPersistence)
	assert.False(t, errors.Is(perr, ErrValidation))
}
