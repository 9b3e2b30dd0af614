package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingCommand struct {
	args []string
}

func (c *recordingCommand) Name() string        { return "echo" }
func (c *recordingCommand) Description() string { return "records its arguments" }
func (c *recordingCommand) Run(args []string) error {
	c.args = args
	return nil
}

func TestRegistry_Run(t *testing.T) {
	cmd := &recordingCommand{}
	r := NewRegistry()
	r.Register(cmd)

	assert.NoError(t, r.Run([]string{"echo", "a", "b"}))
	assert.Equal(t, []string{"a", "b"}, cmd.args)

	assert.Error(t, r.Run(nil))
	assert.Error(t, r.Run([]string{"missing"}))
	assert.NoError(t, r.Run([]string{"help"}))
}
