package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SenluoChen/Cleo-the-AI-Assistant-Backtend/internal/schema"
)

func user(s string) schema.ChatTurn      { return schema.ChatTurn{Role: schema.RoleUser, Content: s} }
func assistant(s string) schema.ChatTurn { return schema.ChatTurn{Role: schema.RoleAssistant, Content: s} }

func TestAssemble_QuestionOnly(t *testing.T) {
	msgs, err := Assemble(Input{System: "sys", Question: "  hello "})
	require.NoError(t, err)
	assert.Equal(t, []Message{
		{Role: schema.RoleSystem, Content: "sys"},
		{Role: schema.RoleUser, Content: "hello"},
	}, msgs)
}

func TestAssemble_QuestionFromHistory(t *testing.T) {
	msgs, err := Assemble(Input{System: "sys", History: []schema.ChatTurn{user("hi")}})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[1].Content)
	assert.Equal(t, schema.RoleUser, msgs[1].Role)
}

func TestAssemble_LatestUserTurnConsumed(t *testing.T) {
	history := []schema.ChatTurn{user("first"), assistant("answer"), user("second"), assistant("tail")}
	msgs, err := Assemble(Input{System: "sys", History: history})
	require.NoError(t, err)

	assert.Equal(t, []Message{
		{Role: schema.RoleSystem, Content: "sys"},
		{Role: schema.RoleUser, Content: "first"},
		{Role: schema.RoleAssistant, Content: "answer"},
		{Role: schema.RoleAssistant, Content: "tail"},
		{Role: schema.RoleUser, Content: "second"},
	}, msgs)
	// история вызывающего не меняется
	assert.Equal(t, "second", history[2].Content)
	assert.Len(t, history, 4)
}

func TestAssemble_DropsTrailingDuplicate(t *testing.T) {
	history := []schema.ChatTurn{user("q1"), assistant("a1"), user(" same ")}
	msgs, err := Assemble(Input{System: "sys", Question: "same", History: history})
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "a1", msgs[2].Content)
	assert.Equal(t, "same", msgs[3].Content)
}

func TestAssemble_KeepsNonTrailingDuplicate(t *testing.T) {
	history := []schema.ChatTurn{user("same"), assistant("a1")}
	msgs, err := Assemble(Input{System: "sys", Question: "same", History: history})
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestAssemble_MissingQuestion(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{name: "empty", in: Input{}},
		{name: "blank question", in: Input{Question: "   "}},
		{name: "only assistant turns", in: Input{History: []schema.ChatTurn{assistant("hello")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.in)
			assert.ErrorIs(t, err, ErrMissingQuestion)
			assert.True(t, schema.IsInvalidRequest(err))
		})
	}
}

func TestAssemble_Image(t *testing.T) {
	msgs, err := Assemble(Input{System: "sys", Question: "what is this", Image: "aGVsbG8="})
	require.NoError(t, err)
	last := msgs[len(msgs)-1]

	assert.Equal(t, []ContentPart{
		TextPart("what is this"),
		ImagePart("data:image/png;base64,aGVsbG8="),
	}, last.Parts)
	assert.Equal(t, "what is this", last.Text())
	url, ok := last.Image()
	assert.True(t, ok)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", url)
}

func TestAssemble_Shape(t *testing.T) {
	inputs := []Input{
		{Question: "a"},
		{Question: "a", History: []schema.ChatTurn{user("a")}},
		{Question: "b", History: []schema.ChatTurn{user("a"), assistant("x"), user("b")}},
		{History: []schema.ChatTurn{assistant("x"), user("b"), user("b")}},
	}
	for _, in := range inputs {
		in.System = "sys"
		msgs, err := Assemble(in)
		require.NoError(t, err)

		assert.Equal(t, schema.RoleSystem, msgs[0].Role)
		assert.Equal(t, schema.RoleUser, msgs[len(msgs)-1].Role)
		for i, m := range msgs[1:] {
			assert.NotEqual(t, schema.RoleSystem, m.Role, "system at %d", i+1)
		}
		if in.Question != "" && len(msgs) > 2 {
			prev := msgs[len(msgs)-2]
			assert.False(t, prev.Role == schema.RoleUser && prev.Content == in.Question)
		}
	}
}

func TestNormalizeImageDataURL(t *testing.T) {
	tests := map[string]string{
		"":                              "",
		"  ":                            "",
		"data:image/jpeg;base64,AAAA":   "data:image/jpeg;base64,AAAA",
		"data:application/x;base64,AAA": "data:application/x;base64,AAA",
		"iVBORw0KGgo=":                  "data:image/png;base64,iVBORw0KGgo=",
		" iVBORw0KGgo= ":                "data:image/png;base64,iVBORw0KGgo=",
		"iVBORw0K\nGgo=":                "data:image/png;base64,iVBORw0KGgo=",
		"iVBORw0KGgo":                   "data:image/png;base64,iVBORw0KGgo=",
		"aGk_-w":                        "data:image/png;base64,aGk/+w==",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeImageDataURL(in), in)
	}
}

func TestMessageJSON(t *testing.T) {
	msgs := []Message{
		{Role: schema.RoleSystem, Content: "sys"},
		{Role: schema.RoleUser, Parts: []ContentPart{TextPart("hi"), ImagePart("data:image/png;base64,AA==")}},
	}
	b, err := json.Marshal(msgs)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"role":"system","content":"sys"},
		{"role":"user","content":[
			{"type":"text","text":"hi"},
			{"type":"image_url","image_url":{"url":"data:image/png;base64,AA=="}}
		]}
	]`, string(b))

	var back []Message
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, msgs, back)
}

func TestSystemPrompt(t *testing.T) {
	assert.Contains(t, SystemPrompt(""), "Reply in natural Traditional Chinese.")
	assert.Contains(t, SystemPrompt("English"), "Reply in natural English.")
}
