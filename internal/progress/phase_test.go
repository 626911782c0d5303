package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPhase_Percent(t *testing.T) {
	tests := []struct {
		name  string
		phase Phase
		want  int
	}{
		{"unknown total", Phase{Current: 3, Total: 0}, 0},
		{"nothing yet", Phase{Current: 0, Total: 10}, 0},
		{"half", Phase{Current: 5, Total: 10}, 50},
		{"rounds half up", Phase{Current: 1, Total: 8}, 13},
		{"rounds down", Phase{Current: 1, Total: 3}, 33},
		{"done", Phase{Current: 7, Total: 7}, 100},
		{"overshoot clamps", Phase{Current: 12, Total: 10}, 100},
		{"negative clamps", Phase{Current: -4, Total: 10}, 0},
		{"negative total", Phase{Current: 1, Total: -1}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.phase.Percent())
		})
	}
}

func TestPhase_Ratio(t *testing.T) {
	assert.InDelta(t, 0.5, Phase{Current: 1, Total: 2}.Ratio(), 1e-9)
	assert.Zero(t, Phase{}.Ratio())
}

func TestPhase_Display(t *testing.T) {
	cur, total := Phase{Current: 12, Total: 10}.Display()
	assert.Equal(t, 10, cur)
	assert.Equal(t, 10, total)

	cur, total = Phase{Current: 4, Total: 0}.Display()
	assert.Equal(t, 4, cur)
	assert.Equal(t, 0, total)

	p := Phase{Current: 12, Total: 10}
	p.Display()
	assert.Equal(t, 12, p.Current)
}

func TestPhase_Done(t *testing.T) {
	assert.False(t, Phase{Status: StatusPending}.Done())
	assert.False(t, Phase{Status: StatusActive}.Done())
	assert.True(t, Phase{Status: StatusComplete}.Done())
	assert.True(t, Phase{Status: StatusError}.Done())
}
