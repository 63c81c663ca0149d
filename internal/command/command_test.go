package command

import (
	"testing"

	"github.com/harun/weave/pkg/workqueue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Command
	}{
		{"", nil},
		{"   ", nil},
		{"hello there", Message{Text: "hello there"}},
		{"/list", List{}},
		{"/LS", List{}},
		{"/switch 2", Switch{Selector: "2"}},
		{"/s my session", Switch{Selector: "my session"}},
		{"/new", New{}},
		{"/new research notes", New{Name: "research notes"}},
		{"/close", Close{}},
		{"/close work", Close{Selector: "work"}},
		{"/bg work summarize the logs", Background{Selector: "work", Text: "summarize the logs", Priority: workqueue.High}},
		{"/bg 3 --low tidy up", Background{Selector: "3", Text: "tidy up", Priority: workqueue.Low}},
		{`/bg "deep dive" --low --high go`, Background{Selector: "deep dive", Text: "go", Priority: workqueue.High}},
		{"/view", View{}},
		{"/view 1", View{Selector: "1"}},
		{"/stats", Stats{}},
		{"/?", Help{}},
		{"/exit", Quit{}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("/dance")
	assert.ErrorIs(t, err, ErrUnknownCommand)

	for _, input := range []string{"/switch", "/bg", "/bg work", "/bg work --low", `/bg "unterminated text`} {
		_, err := Parse(input)
		assert.ErrorIs(t, err, ErrMissingArgument, input)
	}
}

func TestComplete(t *testing.T) {
	got := Complete("/s")
	require.Len(t, got, 2)
	assert.Equal(t, "/switch", got[0].Name)
	assert.Equal(t, "/stats", got[1].Name)

	assert.Nil(t, Complete("s"))
	assert.Len(t, Complete("/"), len(Specs))
}

func TestHelpText(t *testing.T) {
	text := HelpText()
	for _, spec := range Specs {
		assert.Contains(t, text, spec.Usage)
	}
}
