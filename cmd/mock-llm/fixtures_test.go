package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-enhance.json", `{"b0":"a"}`)
	writeFixture(t, dir, "mock-extract.json", `{"people":[]}`)

	fixtures, err := loadFixtures(dir)
	require.NoError(t, err)
	require.Len(t, fixtures, 2)
	for model, seq := range fixtures {
		assert.Len(t, seq, 1, model)
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-enhance.2.json", `{"n":2}`)
	writeFixture(t, dir, "mock-enhance.10.json", `{"n":10}`)
	writeFixture(t, dir, "mock-enhance.1.json", `{"n":1}`)
	writeFixture(t, dir, "mock-enhance.json", `{"n":"base"}`)

	fixtures, err := loadFixtures(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":10}`, `{"n":"base"}`}, fixtures["mock-enhance"])
}

func TestLoadFixtures_Errors(t *testing.T) {
	_, err := loadFixtures(t.TempDir())
	assert.ErrorContains(t, err, "no fixture files")

	dir := t.TempDir()
	writeFixture(t, dir, "broken.json", `{not json`)
	_, err = loadFixtures(dir)
	assert.ErrorContains(t, err, "invalid JSON")

	_, err = loadFixtures(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
