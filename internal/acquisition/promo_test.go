package acquisition

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestLoadPromoTokens_Default(t *testing.T) {
	tokens, err := LoadPromoTokens("")
	if err != nil {
		t.Fatalf("LoadPromoTokens() ошибка: %v", err)
	}
	if !slices.Equal(tokens, DefaultPromoTokens) {
		t.Errorf("ожидаются маркеры по умолчанию, получено %q", tokens)
	}
}

func TestLoadPromoTokens_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promo.yaml")
	content := "promo_tokens:\n  - 한정판\n  - 기획\n  - \"  \"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	tokens, err := LoadPromoTokens(path)
	if err != nil {
		t.Fatalf("LoadPromoTokens() ошибка: %v", err)
	}
	if len(tokens) != len(DefaultPromoTokens)+1 {
		t.Errorf("ожидается %d маркеров, получено %d", len(DefaultPromoTokens)+1, len(tokens))
	}
	if !slices.Contains(tokens, "한정판") {
		t.Error("маркер из файла не добавлен")
	}
}

func TestLoadPromoTokens_Errors(t *testing.T) {
	if _, err := LoadPromoTokens(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("ожидается ошибка для отсутствующего файла")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("promo_tokens: [unclosed"), 0o600)
	if _, err := LoadPromoTokens(path); err == nil {
		t.Error("ожидается ошибка для некорректного YAML")
	}
}

func TestCompilePromo_DropsDuplicates(t *testing.T) {
	tokens, err := LoadPromoTokens("")
	if err != nil {
		t.Fatal(err)
	}
	withDuplicates := append(slices.Clone(tokens), DefaultPromoTokens...)
	withDuplicates = append(withDuplicates, " "+DefaultPromoTokens[0]+" ")

	got := compilePromo(withDuplicates).String()
	want := compilePromo(DefaultPromoTokens).String()
	if got != want {
		t.Errorf("повторы маркеров попали в выражение:\n%s\nожидается\n%s", got, want)
	}
}
