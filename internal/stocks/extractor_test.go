package stocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCandidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		text         string
		wantDomestic []string
		wantForeign  []string
	}{
		{
			name:         "domestic code kept",
			text:         "I think 2330 is strong this week",
			wantDomestic: []string{"2330"},
			wantForeign:  []string{},
		},
		{
			name:         "calendar year dropped",
			text:         "in 2025 we expect a rebound",
			wantDomestic: []string{},
			wantForeign:  []string{},
		},
		{
			name:         "ticker kept and stop word dropped",
			text:         "AAPL rallies while THE market sleeps",
			wantDomestic: []string{},
			wantForeign:  []string{"AAPL"},
		},
		{
			name:         "round numbers and single letters dropped",
			text:         "index at 8000, target 1000 and 2454; buy A or B",
			wantDomestic: []string{"2454"},
			wantForeign:  []string{},
		},
		{
			name:         "codes adjacent to chinese text",
			text:         "台積電2330與聯發科2454都看好，NVDA也不錯",
			wantDomestic: []string{"2330", "2454"},
			wantForeign:  []string{"NVDA"},
		},
		{
			name:         "duplicates merged in first occurrence order",
			text:         "TSLA 2317 TSLA 2317 AMD EPS",
			wantDomestic: []string{"2317"},
			wantForeign:  []string{"TSLA", "AMD"},
		},
		{
			name:         "leading zero and nine dropped",
			text:         "0050 和 9958 之外還有 1101",
			wantDomestic: []string{"1101"},
			wantForeign:  []string{},
		},
		{
			name:         "longer digit runs ignored",
			text:         "volume 123456 and 23300",
			wantDomestic: []string{},
			wantForeign:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			domestic, foreign := Candidates(tt.text)
			assert.Equal(t, tt.wantDomestic, domestic)
			assert.Equal(t, tt.wantForeign, foreign)
		})
	}
}

func TestYearBoundaries(t *testing.T) {
	t.Parallel()

	assert.True(t, keepDomestic("2019"))
	assert.False(t, keepDomestic("2020"))
	assert.False(t, keepDomestic("2030"))
	assert.True(t, keepDomestic("2031"))
}

func TestLeadingDigitRule(t *testing.T) {
	t.Parallel()

	assert.False(t, keepDomestic("0050"))
	assert.False(t, keepDomestic("9910"))
	assert.True(t, keepDomestic("1101"))
	assert.True(t, keepDomestic("8046"))
}
