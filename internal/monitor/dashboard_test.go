package monitor

import (
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewModel(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	assert.Equal(t, "http://localhost:9090", model.serverURL)
	assert.Equal(t, 5*time.Second, model.interval)
	assert.False(t, model.quitting)
	assert.Equal(t, 1.0, model.snapshot.TokenRatePeak)
}

func TestModel_Init(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	assert.NotNil(t, model.Init())
}

func TestModel_Update_QuitKey(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	updatedModel, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	m := updatedModel.(Model)
	assert.True(t, m.quitting)
	assert.NotNil(t, cmd)
	assert.Empty(t, m.View())
}

func TestModel_Update_RefreshKey(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	updatedModel, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'r'}})

	m := updatedModel.(Model)
	assert.False(t, m.quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_TickMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	updatedModel, cmd := model.Update(tickMsg(time.Now()))

	assert.False(t, updatedModel.(Model).quitting)
	assert.NotNil(t, cmd)
}

func TestModel_Update_StatusMsgDerivesRates(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.now = func() time.Time { return clock }

	updated, cmd := model.Update(statusMsg(Status{Status: "ok", InputTokens: 100, CostUSD: 0.01}))
	assert.Nil(t, cmd)
	m := updated.(Model)
	assert.Equal(t, 0.0, m.snapshot.TokenRate)
	assert.Len(t, m.snapshot.TokenRateHistory, 1)

	clock = clock.Add(30 * time.Second)
	m.now = func() time.Time { return clock }
	updated, _ = m.Update(statusMsg(Status{Status: "ok", InputTokens: 300, OutputTokens: 100, CostUSD: 0.03}))
	m = updated.(Model)

	assert.InDelta(t, 600.0, m.snapshot.TokenRate, 1e-9)
	assert.InDelta(t, 0.04, m.snapshot.CostRate, 1e-9)
	assert.InDelta(t, 600.0, m.snapshot.TokenRatePeak, 1e-9)
	assert.Len(t, m.snapshot.TokenRateHistory, 2)
	assert.Equal(t, clock, m.lastUpdate)
}

func TestModel_Update_CounterResetReportsZeroRate(t *testing.T) {
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.now = func() time.Time { return clock }

	updated, _ := model.Update(statusMsg(Status{InputTokens: 5000}))
	m := updated.(Model)
	clock = clock.Add(time.Minute)
	updated, _ = m.Update(statusMsg(Status{InputTokens: 10}))

	assert.Equal(t, 0.0, updated.(Model).snapshot.TokenRate)
}

func TestModel_Update_ErrMsg(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)

	updatedModel, cmd := model.Update(errMsg(fmt.Errorf("connection refused")))

	m := updatedModel.(Model)
	assert.NotNil(t, m.err)
	assert.Contains(t, m.err.Error(), "connection refused")
	assert.Nil(t, cmd)
}

func TestModel_View_WithStatus(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.snapshot.Status = Status{
		Status:       "ok",
		Version:      "v0.3.0",
		Root:         "/work/app",
		Specialists:  2,
		InputTokens:  1000,
		OutputTokens: 234,
		CostUSD:      0.0125,
	}
	model.snapshot.TokenRate = 45.7
	model.lastUpdate = time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)

	view := model.View()

	assert.Contains(t, view, "refacta Monitor")
	assert.Contains(t, view, "HEALTHY")
	assert.Contains(t, view, "12:34:56")
	assert.Contains(t, view, "/work/app")
	assert.Contains(t, view, "1,234")
	assert.Contains(t, view, "45.7 tok/min")
	assert.Contains(t, view, "$0.0125")
	assert.Contains(t, view, "[q]")
	assert.Contains(t, view, "[r]")
}

func TestModel_View_WithError(t *testing.T) {
	model := NewModel("http://localhost:9090", 5*time.Second)
	model.err = fmt.Errorf("connection refused")

	view := model.View()

	assert.Contains(t, view, "Cannot reach refacta server")
	assert.Contains(t, view, "connection refused")
	assert.Contains(t, view, "http://localhost:9090")
}

func TestGetStatusBadge(t *testing.T) {
	assert.Contains(t, getStatusBadge("ok"), "HEALTHY")
	assert.Contains(t, getStatusBadge(""), "UNKNOWN")
	assert.Contains(t, getStatusBadge("degraded"), "degraded")
}

func TestAppendToHistory(t *testing.T) {
	var history []float64
	for i := 0; i < historySize+5; i++ {
		history = appendToHistory(history, float64(i))
	}
	assert.Len(t, history, historySize)
	assert.Equal(t, 5.0, history[0])
	assert.Equal(t, float64(historySize+4), history[len(history)-1])
}
