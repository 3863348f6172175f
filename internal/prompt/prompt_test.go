package prompt_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MegaGrindStone/chat-widget/internal/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssemblerStripsMarkers(t *testing.T) {
	k := prompt.Knowledge{Documents: []prompt.Document{
		{Name: "B1C_reciprocity.txt", Content: "See B1C_scarcity for the opposite effect."},
	}}
	a := prompt.NewAssembler("Persona B1C_v2", k, prompt.DefaultMarkers)

	p := a.Assemble("What is B1C_reciprocity?")

	assert.NotContains(t, p.System, "B1C_")
	assert.Contains(t, p.System, "=== reciprocity.txt ===")
	assert.Contains(t, p.System, "See scarcity for the opposite effect.")
	assert.Contains(t, p.System, "never mention internal prefixes")
	// The user's own words are passed through untouched.
	assert.Equal(t, "What is B1C_reciprocity?", p.Message)
}

func TestAssemblerReady(t *testing.T) {
	tests := []struct {
		name      string
		persona   string
		knowledge prompt.Knowledge
		want      bool
	}{
		{
			name:      "persona and knowledge",
			persona:   "p",
			knowledge: prompt.Knowledge{Documents: []prompt.Document{{Name: "a.txt", Content: "x"}}},
			want:      true,
		},
		{
			name:    "no knowledge",
			persona: "p",
			want:    false,
		},
		{
			name:      "blank persona",
			persona:   "  ",
			knowledge: prompt.Knowledge{Documents: []prompt.Document{{Name: "a.txt", Content: "x"}}},
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := prompt.NewAssembler(tt.persona, tt.knowledge, nil)
			assert.Equal(t, tt.want, a.Ready())
		})
	}
}

func TestPromptInline(t *testing.T) {
	p := prompt.Prompt{System: "sys", Message: "hello"}
	assert.Equal(t, "sys\n\nUser: hello\n\nAssistant:", p.Inline())
}

func TestLoadKnowledge(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o600))
	}
	write("b.txt", []byte("second"))
	write("a.md", []byte("  first  \n"))
	write("empty.txt", []byte("   "))
	write("image.png", []byte{0x89, 0x50})
	// "café" in Latin-1.
	write("c.txt", []byte{'c', 'a', 'f', 0xe9})
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.txt"), 0o700))

	k, err := prompt.LoadKnowledge(dir, discardLogger())
	require.NoError(t, err)

	require.Len(t, k.Documents, 3)
	assert.Equal(t, prompt.Document{Name: "a.md", Content: "first"}, k.Documents[0])
	assert.Equal(t, prompt.Document{Name: "b.txt", Content: "second"}, k.Documents[1])
	assert.Equal(t, prompt.Document{Name: "c.txt", Content: "café"}, k.Documents[2])
	assert.Equal(t, "=== a.md ===\nfirst\n\n=== b.txt ===\nsecond\n\n=== c.txt ===\ncafé\n", k.Text())
}

func TestLoadKnowledgePDF(t *testing.T) {
	dir := t.TempDir()
	raw, err := os.ReadFile(filepath.Join("testdata", "guide.pdf"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "guide.pdf"), raw, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("notes"), 0o600))

	k, err := prompt.LoadKnowledge(dir, discardLogger())
	require.NoError(t, err)

	require.Len(t, k.Documents, 2)
	assert.Equal(t, "guide.pdf", k.Documents[0].Name)
	assert.Contains(t, k.Documents[0].Content, "Delivery takes three days.")
	assert.Contains(t, k.Text(), "=== guide.pdf ===\nDelivery takes three days.")
}

func TestLoadKnowledgeSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("kept"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("this file is plain text, not a pdf document"), 0o600))
	require.NoError(t, os.Symlink(filepath.Join(dir, "nowhere.txt"), filepath.Join(dir, "dangling.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z.md"), []byte("also kept"), 0o600))

	k, err := prompt.LoadKnowledge(dir, discardLogger())
	require.NoError(t, err)

	require.Len(t, k.Documents, 2)
	assert.Equal(t, "a.txt", k.Documents[0].Name)
	assert.Equal(t, "z.md", k.Documents[1].Name)
}

func TestLoadKnowledgeMissingDir(t *testing.T) {
	_, err := prompt.LoadKnowledge(filepath.Join(t.TempDir(), "missing"), discardLogger())
	assert.Error(t, err)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadPersona(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.txt")
	require.NoError(t, os.WriteFile(path, []byte("You are terse.\n"), 0o600))

	got, err := prompt.LoadPersona(path)
	require.NoError(t, err)
	assert.Equal(t, "You are terse.", got)

	got, err = prompt.LoadPersona(filepath.Join(dir, "absent.txt"))
	require.NoError(t, err)
	assert.Equal(t, prompt.DefaultPersona, got)

	got, err = prompt.LoadPersona("")
	require.NoError(t, err)
	assert.Equal(t, prompt.DefaultPersona, got)
}
