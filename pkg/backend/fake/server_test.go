package fake

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/odvcencio/taskchat/pkg/token"
)

func TestReplyProposesTaskOperation(t *testing.T) {
	text := reply("Could you add a task: ship the release")
	op, ok := token.ToOperation(text)
	assert.True(t, ok)
	assert.Equal(t, "create_task", op.Op)
	assert.Equal(t, "ship the release", op.Params["title"])

	assert.Equal(t, "Noted: hello there", reply("  hello   there "))
}

func TestTaskTitle(t *testing.T) {
	title, ok := taskTitle("TASK - buy milk")
	assert.True(t, ok)
	assert.Equal(t, "buy milk", title)

	title, ok = taskTitle("new task")
	assert.True(t, ok)
	assert.Equal(t, "Untitled task", title)

	_, ok = taskTitle("nothing here")
	assert.False(t, ok)
}
