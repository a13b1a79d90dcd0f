package podcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVoice(t *testing.T) {
	tests := []struct {
		in      string
		want    Voice
		wantErr bool
	}{
		{"sarah", VoiceSarah, false},
		{"SARAH", VoiceSarah, false},
		{" Theo ", VoiceTheo, false},
		{"bob", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVoice(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLine_Validate(t *testing.T) {
	assert.NoError(t, Line{Speaker: VoiceTheo, Text: "Hello"}.Validate())
	assert.Error(t, Line{Speaker: "narrator", Text: "Hello"}.Validate())
	assert.Error(t, Line{Speaker: VoiceSarah, Text: "   "}.Validate())
}
