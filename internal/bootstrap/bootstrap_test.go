package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakeRunner struct {
	names []string
	args  [][]string
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.names = append(f.names, name)
	f.args = append(f.args, args)
	if f.err != nil {
		return "", "genisoimage: error", f.err
	}
	return "", "", nil
}

func TestGeneratePasswordPolicy(t *testing.T) {
	for i := 0; i < 50; i++ {
		pw, err := GeneratePassword(DefaultPasswordLength)
		if err != nil {
			t.Fatalf("generation failed: %v", err)
		}
		if len(pw) != DefaultPasswordLength {
			t.Fatalf("length = %d, want %d (%q)", len(pw), DefaultPasswordLength, pw)
		}
		if !strings.ContainsAny(pw, lowerChars) {
			t.Errorf("no lowercase in %q", pw)
		}
		if !strings.ContainsAny(pw, upperChars) {
			t.Errorf("no uppercase in %q", pw)
		}
		if !strings.ContainsAny(pw, digitChars) {
			t.Errorf("no digit in %q", pw)
		}
		if !strings.ContainsAny(pw, symbolChars) {
			t.Errorf("no symbol in %q", pw)
		}
	}
}

func TestGeneratePasswordNotRepeating(t *testing.T) {
	a, err := GeneratePassword(DefaultPasswordLength)
	if err != nil {
		t.Fatal(err)
	}
	b, err := GeneratePassword(DefaultPasswordLength)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("two consecutive passwords are equal: %q", a)
	}
}

func TestGeneratePasswordTooShort(t *testing.T) {
	if _, err := GeneratePassword(3); err == nil {
		t.Error("expected error for length below the class count")
	}
}

func TestGenerateWritesDocumentsAndPackages(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	g := NewGenerator(runner, dir, "forge", 0)

	cfg, isoPath, err := g.Generate(context.Background(), "alpha-1")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if cfg.Hostname != "alpha-1" || cfg.Username != "forge" {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if len(cfg.Password) != DefaultPasswordLength {
		t.Errorf("password length = %d", len(cfg.Password))
	}
	if isoPath != filepath.Join(dir, "alpha-1-seed.iso") {
		t.Errorf("unexpected iso path %q", isoPath)
	}

	meta, err := os.ReadFile(filepath.Join(dir, "alpha-1-seed", "meta-data"))
	if err != nil {
		t.Fatalf("meta-data not written: %v", err)
	}
	if !strings.Contains(string(meta), "local-hostname: alpha-1") {
		t.Errorf("meta-data missing hostname:\n%s", meta)
	}

	user, err := os.ReadFile(filepath.Join(dir, "alpha-1-seed", "user-data"))
	if err != nil {
		t.Fatalf("user-data not written: %v", err)
	}
	for _, want := range []string{
		"#cloud-config",
		"hostname: alpha-1",
		"name: forge",
		"plain_text_passwd: " + cfg.Password,
		"ssh_pwauth: true",
	} {
		if !strings.Contains(string(user), want) {
			t.Errorf("user-data missing %q:\n%s", want, user)
		}
	}

	if len(runner.names) != 1 || runner.names[0] != "genisoimage" {
		t.Fatalf("expected one genisoimage call, got %v", runner.names)
	}
	joined := strings.Join(runner.args[0], " ")
	if !strings.Contains(joined, "-volid cidata") {
		t.Errorf("iso not labeled cidata: %v", runner.args[0])
	}
}

func TestGeneratePackagingFailureIsHard(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 1")}
	g := NewGenerator(runner, t.TempDir(), "forge", 0)

	if _, _, err := g.Generate(context.Background(), "alpha-2"); err == nil {
		t.Fatal("expected hard failure when packaging fails")
	}
}
