package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/skillbox/skillbox/internal/manifest"
)

var extForLanguage = map[manifest.Language]string{
	manifest.LangPython:     "main.py",
	manifest.LangJavaScript: "main.js",
	manifest.LangBash:       "main.sh",
}

// writeInlineSkill materializes one-shot inline code (from the
// execute_code RPC, which has no on-disk skill directory) into a
// throwaway skill directory the rest of C1-C6 can treat identically
// to a registered skill. The caller must invoke cleanup once done.
func writeInlineSkill(language, code string) (manifest.Skill, string, func(), error) {
	lang := manifest.Language(language)
	filename, ok := extForLanguage[lang]
	if !ok {
		filename = "main.sh"
		lang = manifest.LangBash
	}

	dir, err := os.MkdirTemp("", "skillbox-inline-*")
	if err != nil {
		return manifest.Skill{}, "", func() {}, fmt.Errorf("mkdir temp: %w", err)
	}
	cleanup := func() { _ = os.RemoveAll(dir) }

	scriptsDir := filepath.Join(dir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		cleanup()
		return manifest.Skill{}, "", func() {}, err
	}
	entry := filepath.Join(scriptsDir, filename)
	if err := os.WriteFile(entry, []byte(code), 0o755); err != nil {
		cleanup()
		return manifest.Skill{}, "", func() {}, err
	}

	manifestBody := "---\nname: inline\nentry_point: scripts/" + filename + "\n---\n"
	if err := os.WriteFile(filepath.Join(dir, "SKILL.md"), []byte(manifestBody), 0o644); err != nil {
		cleanup()
		return manifest.Skill{}, "", func() {}, err
	}

	skill, err := manifest.Load(dir)
	if err != nil {
		cleanup()
		return manifest.Skill{}, "", func() {}, err
	}
	skill.Language = lang
	return skill, entry, cleanup, nil
}
