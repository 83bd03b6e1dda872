package prompt

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/islandproperties/concierge/backend/internal/model/chat"
	"github.com/islandproperties/concierge/backend/internal/model/persona"
)

func yuna(t *testing.T) persona.Persona {
	t.Helper()
	p, ok := persona.NewMemoryStore(persona.Seed()).FindByID("yuna")
	require.True(t, ok)
	return p
}

func TestComposeSections(t *testing.T) {
	c := NewComposer()
	got := c.Compose(yuna(t), "", "")

	assert.True(t, strings.HasPrefix(got, "You are Yuna (유나), Luxury Property Consultant at Island Properties SC"))
	for _, section := range []string{"## LANGUAGE", "## PERSONALITY", "## EXPERTISE", "## POLICY", "## IDENTITY LOCK"} {
		assert.Contains(t, got, section)
	}
	assert.Contains(t, got, "하십시오체")
	assert.Contains(t, got, "NEVER use 당신")
	assert.Contains(t, got, "고객님")
	assert.Contains(t, got, "GPS")
	assert.NotContains(t, got, "CURRENT LISTING")
	assert.NotContains(t, got, "KNOWLEDGE BASE")

	lang := strings.Index(got, "## LANGUAGE")
	lock := strings.Index(got, "## IDENTITY LOCK")
	assert.Less(t, lang, lock)
}

func TestComposePolicyForBarePersona(t *testing.T) {
	c := NewComposer()
	got := c.Compose(persona.Persona{ID: "mina", Name: "Mina", Region: "Panglao"}, "", "")

	assert.Contains(t, got, "## POLICY")
	assert.Contains(t, got, "Never make legal guarantees")
	assert.Contains(t, got, "GPS coordinates")
	assert.Contains(t, got, "## IDENTITY LOCK")
	assert.NotContains(t, got, "## RULES")
}

func TestComposePersonaRulesAreAdditive(t *testing.T) {
	c := NewComposer()
	p := yuna(t)
	p.Rules = []string{"Mention the Alona Beach showroom when asked about viewings."}
	got := c.Compose(p, "", "")

	policy := strings.Index(got, "## POLICY")
	rules := strings.Index(got, "## RULES\n- Mention the Alona Beach showroom")
	require.NotEqual(t, -1, policy)
	require.NotEqual(t, -1, rules)
	assert.Less(t, policy, rules)
	assert.Contains(t, got, "Never reveal GPS coordinates")
}

func TestComposeOptionalContext(t *testing.T) {
	c := NewComposer()
	got := c.Compose(yuna(t), "Panglao beachfront villa, 4BR, clean TCT", "SRRV requires a USD 20,000 deposit.")

	listing := strings.Index(got, "## CURRENT LISTING\nPanglao beachfront villa, 4BR, clean TCT")
	kb := strings.Index(got, "## KNOWLEDGE BASE\nSRRV requires a USD 20,000 deposit.")
	require.NotEqual(t, -1, listing)
	require.NotEqual(t, -1, kb)
	assert.Less(t, strings.Index(got, "## IDENTITY LOCK"), listing)
	assert.Less(t, listing, kb)
}

func TestComposeBlankContextIsSilent(t *testing.T) {
	c := NewComposer()
	assert.Equal(t, c.Compose(yuna(t), "", ""), c.Compose(yuna(t), "  \n", "\t"))
}

func TestMessagesAppliesHistoryWindow(t *testing.T) {
	c := NewComposer()

	var history []chat.Message
	for i := 0; i < 12; i++ {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		history = append(history, chat.Message{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}
	history = append(history, chat.Message{Role: "system", Content: "sneaky"})

	msgs, err := c.Messages(context.Background(), "SYSTEM {braces} kept", history, "What about yields?", 8)
	require.NoError(t, err)

	// system + 7 known-role turns from the last 8 entries + user
	require.Len(t, msgs, 9)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "SYSTEM {braces} kept", msgs[0].Content)
	assert.Equal(t, "turn 5", msgs[1].Content)
	assert.Equal(t, schema.Assistant, msgs[1].Role)
	assert.Equal(t, "turn 11", msgs[7].Content)
	assert.Equal(t, schema.User, msgs[8].Role)
	assert.Equal(t, "What about yields?", msgs[8].Content)
}

func TestMessagesWithoutHistory(t *testing.T) {
	c := NewComposer()

	msgs, err := c.Messages(context.Background(), "sys", nil, "hello", 8)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[1].Content)
}
