package breakpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	h := newFakeHost()
	tgt, _, th := h.startProcess(100)
	_, _, otherThread := h.startProcess(200)

	tests := []struct {
		name    string
		modify  func(s *Settings)
		wantErr bool
	}{
		{"default", func(s *Settings) {}, false},
		{"system symbol", func(s *Settings) { s.Location = SymbolLocation("main.main") }, false},
		{"system with target", func(s *Settings) { s.Target = tgt }, true},
		{"system with thread", func(s *Settings) { s.Thread = th }, true},
		{"target", func(s *Settings) { s.Scope, s.Target = ScopeTarget, tgt }, false},
		{"target without target", func(s *Settings) { s.Scope = ScopeTarget }, true},
		{"target with thread", func(s *Settings) { s.Scope, s.Target, s.Thread = ScopeTarget, tgt, th }, true},
		{"thread", func(s *Settings) { s.Scope, s.Target, s.Thread = ScopeThread, tgt, th }, false},
		{"thread without thread", func(s *Settings) { s.Scope, s.Target = ScopeThread, tgt }, true},
		{"thread without target", func(s *Settings) { s.Scope, s.Thread = ScopeThread, th }, true},
		{"thread of another target", func(s *Settings) { s.Scope, s.Target, s.Thread = ScopeThread, tgt, otherThread }, true},
		{"address in system scope", func(s *Settings) { s.Location = AddressLocation(0x1000) }, true},
		{"address in target scope", func(s *Settings) {
			s.Scope, s.Target, s.Location = ScopeTarget, tgt, AddressLocation(0x1000)
		}, false},
		{"empty symbol", func(s *Settings) { s.Location = SymbolLocation("") }, true},
		{"line without file", func(s *Settings) { s.Location = LineLocation("", 3) }, true},
		{"line zero", func(s *Settings) { s.Location = LineLocation("main.go", 0) }, true},
		{"line", func(s *Settings) { s.Location = LineLocation("main.go", 3) }, false},
		{"bad stop mode", func(s *Settings) { s.StopMode = StopMode(9) }, true},
		{"bad scope", func(s *Settings) { s.Scope = Scope(9) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.modify(&s)

			err := s.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSettings))
			var verr *ValidationError
			assert.True(t, errors.As(err, &verr))
		})
	}
}

func TestValidateRejectsDestroyedScope(t *testing.T) {
	h := newFakeHost()
	tgt, p, th := h.startProcess(100)

	s := DefaultSettings()
	s.Scope, s.Target, s.Thread = ScopeThread, tgt, th
	require.NoError(t, s.Validate())

	p.ThreadExiting(th.Koid())
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)

	s = DefaultSettings()
	s.Scope, s.Target = ScopeTarget, tgt
	h.system.DestroyTarget(tgt)
	assert.ErrorIs(t, s.Validate(), ErrInvalidSettings)
}

func TestInputLocationString(t *testing.T) {
	assert.Equal(t, "main.main", SymbolLocation("main.main").String())
	assert.Equal(t, "main.go:12", LineLocation("main.go", 12).String())
	assert.Equal(t, "0x401000", AddressLocation(0x401000).String())
	assert.Equal(t, "<none>", InputLocation{}.String())
}
