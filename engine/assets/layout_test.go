package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/rei/engine/core"
	"github.com/spaghettifunk/rei/engine/renderer"
	"github.com/spaghettifunk/rei/engine/renderer/metadata"
)

const texturedLayout = `
name = "textured"
pipeline = "graphics"

[[table]]
slot = 0
stages = ["vert", "frag"]

  [[table.binding]]
  type = "uniform_buffer"
  binding = 0

  [[table.binding]]
  type = "texture"
  binding = 1
  register = 0
  count = 2

[[table]]
slot = 1
stages = ["frag"]

  [[table.binding]]
  type = "sampler"
  binding = 0

[[push_constant]]
stages = ["vert"]
size = 16
`

func TestParseLayout(t *testing.T) {
	desc, err := ParseLayout([]byte(texturedLayout))
	require.NoError(t, err)

	assert.Equal(t, "textured", desc.Name)
	assert.Equal(t, metadata.PipelineTypeGraphics, desc.PipelineType)
	require.Len(t, desc.Tables, 2)
	assert.Equal(t, metadata.ShaderStageVert|metadata.ShaderStageFrag, desc.Tables[0].StageFlags)
	require.Len(t, desc.Tables[0].Bindings, 2)
	assert.Equal(t, metadata.DescriptorTypeUniformBuffer, desc.Tables[0].Bindings[0].DescriptorType)
	assert.Equal(t, uint32(1), desc.Tables[0].Bindings[0].DescriptorCount)
	assert.Equal(t, uint32(2), desc.Tables[0].Bindings[1].DescriptorCount)
	assert.Equal(t, metadata.DescriptorTableSlot(1), desc.Tables[1].Slot)
	require.Len(t, desc.PushConstants, 1)
	assert.Equal(t, uint32(16), desc.PushConstants[0].Size)

	layout, err := renderer.BuildSignatureLayout(desc, metadata.DeviceCapabilities{})
	require.NoError(t, err)
	assert.Equal(t, uint32(2), layout.MaxUsedSlots)
	assert.Len(t, layout.Parameters, 3)
	assert.Equal(t, uint32(3), layout.Slots[0].ViewCount)
	assert.Equal(t, uint32(1), layout.Slots[1].SamplerCount)
}

func TestParseLayoutRejects(t *testing.T) {
	cases := map[string]string{
		"pipeline":   `pipeline = "mesh"`,
		"stage":      "pipeline = \"compute\"\n[[table]]\nstages = [\"ray\"]\n",
		"type":       "pipeline = \"compute\"\n[[table]]\nstages = [\"comp\"]\n[[table.binding]]\ntype = \"bvh\"\n",
		"unknown":    "pipeline = \"compute\"\ncolor = 1\n",
		"push_stage": "pipeline = \"graphics\"\n[[push_constant]]\nstages = [\"task\"]\nsize = 4\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseLayout([]byte(data))
			require.Error(t, err)
			if name != "unknown" {
				assert.True(t, errors.Is(err, core.ErrInvalidSignature))
			}
		})
	}
}

func TestLoadLayoutNamesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blit"+LayoutExt)
	require.NoError(t, os.WriteFile(path, []byte("pipeline = \"compute\"\n"), 0o644))

	desc, err := LoadLayout(path)
	require.NoError(t, err)
	assert.Equal(t, "blit", desc.Name)
	assert.Equal(t, metadata.PipelineTypeCompute, desc.PipelineType)
	assert.True(t, IsLayoutFile(path))
	assert.False(t, IsLayoutFile(filepath.Join(dir, "blit.toml")))
}

type reloadEvent struct {
	name    string
	removed bool
}

func waitFor(t *testing.T, events <-chan reloadEvent, want reloadEvent) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e == want {
				return
			}
		case <-timeout:
			t.Fatalf("no reload event %+v", want)
		}
	}
}

func TestLayoutLibraryWatch(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "textured"+LayoutExt), []byte(texturedLayout), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	lib, err := NewLayoutLibrary(nil)
	require.NoError(t, err)
	defer lib.Close()

	events := make(chan reloadEvent, 32)
	lib.OnReload(func(name string, desc *renderer.RootSignatureDesc) {
		events <- reloadEvent{name: name, removed: desc == nil}
	})
	require.NoError(t, lib.Initialize(dir))
	assert.Equal(t, []string{"textured"}, lib.Names())

	desc, ok := lib.Get("textured")
	require.True(t, ok)
	desc.Tables = nil
	again, _ := lib.Get("textured")
	assert.Len(t, again.Tables, 2, "Get returns a copy")

	extra := filepath.Join(dir, "extra"+LayoutExt)
	require.NoError(t, os.WriteFile(extra, []byte("pipeline = \"compute\"\n"), 0o644))
	waitFor(t, events, reloadEvent{name: "extra"})
	assert.Equal(t, []string{"extra", "textured"}, lib.Names())

	require.NoError(t, os.Remove(extra))
	waitFor(t, events, reloadEvent{name: "extra", removed: true})
	_, ok = lib.Get("extra")
	assert.False(t, ok)

	require.NoError(t, lib.Close())
	require.NoError(t, lib.Close())
}
