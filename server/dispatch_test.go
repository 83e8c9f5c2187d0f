package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexID(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{input: `42`, want: 42},
		{input: `"42"`, want: 42},
		{input: `""`, want: 0},
		{input: `null`, want: 0},
		{input: `"abc"`, wantErr: true},
		{input: `1.5`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var p struct {
				ID flexID `json:"id"`
			}
			p.ID = 99
			err := json.Unmarshal([]byte(`{"id":`+tt.input+`}`), &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, int64(p.ID))
		})
	}
}
