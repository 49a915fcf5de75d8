package turn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ngoclaw/codexcore/internal/itemstore"
)

func TestCostGuard_TokenBudget(t *testing.T) {
	g := NewCostGuard(100, 0, nil)
	assert.NoError(t, g.AddTokens(50))
	assert.NoError(t, g.AddTokens(50))
	err := g.AddTokens(1)
	assert.ErrorIs(t, err, ErrTokenBudgetExceeded)
}

func TestCostGuard_TimeBudget(t *testing.T) {
	g := NewCostGuard(0, time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)
	assert.ErrorIs(t, g.CheckBudget(), ErrTimeBudgetExceeded)
}

func TestContextGuard_WarnAndHardThresholds(t *testing.T) {
	g := NewContextGuard(100, 0.5, 0.9, nil)

	small := []itemstore.Item{{Kind: itemstore.KindMessage, Role: itemstore.RoleUser, Content: []itemstore.ContentItem{itemstore.InputText("hi")}}}
	res := g.Check(small)
	assert.False(t, res.Warning)
	assert.False(t, res.NeedCompaction)

	big := []itemstore.Item{{Kind: itemstore.KindMessage, Role: itemstore.RoleUser, Content: []itemstore.ContentItem{itemstore.InputText(stringsRepeat("x", 400))}}}
	res = g.Check(big)
	assert.True(t, res.NeedCompaction)
}

func stringsRepeat(s string, n int) string {
	out := make([]byte, 0, n*len(s))
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}

func TestLoopDetector_NameWindowTriggersOnSameToolDominating(t *testing.T) {
	d := NewLoopDetector(5, 10, 3, nil)
	assert.Empty(t, d.RecordName("grep"))
	assert.Empty(t, d.RecordName("ls"))
	prompt := d.RecordName("grep")
	// "grep" appears once more at count 2, not yet 3
	assert.Empty(t, prompt)
	prompt = d.RecordName("grep")
	assert.NotEmpty(t, prompt)
}

func TestLoopDetector_ExactMatchTriggersOnConsecutiveRepeats(t *testing.T) {
	d := NewLoopDetector(10, 3, 100, nil)
	assert.Empty(t, d.Record("read_file", "a.go"))
	assert.Empty(t, d.Record("read_file", "a.go"))
	prompt := d.Record("read_file", "a.go")
	assert.NotEmpty(t, prompt)
}

func TestLoopDetector_ExactMatchResetsOnDifferentArgs(t *testing.T) {
	d := NewLoopDetector(10, 3, 100, nil)
	assert.Empty(t, d.Record("read_file", "a.go"))
	assert.Empty(t, d.Record("read_file", "b.go"))
	assert.Empty(t, d.Record("read_file", "a.go"))
}

func TestLoopDetector_Reset(t *testing.T) {
	d := NewLoopDetector(10, 3, 100, nil)
	d.Record("x", "1")
	d.Record("x", "1")
	d.Reset()
	assert.Empty(t, d.Record("x", "1"))
	assert.Empty(t, d.Record("x", "1"))
}
